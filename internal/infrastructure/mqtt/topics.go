package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "rwsclient"

// Topics builds the topic tree under one prefix.
//
//	<prefix>/status                              client online/offline (retained, LWT)
//	<prefix>/host/command                        outbound host messages
//	<prefix>/host/ack/<edit|motion>/<requested|released>
//	<prefix>/host/cleanup                        host-triggered cleanup
//
// Usage:
//
//	topics := mqtt.Topics{Prefix: "cell-7"}
//	topics.HostAck("motion", "requested")
//	// Returns: "cell-7/host/ack/motion/requested"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// Status returns the client status topic.
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// HostCommand returns the topic host messages are published on.
func (t Topics) HostCommand() string {
	return t.prefix() + "/host/command"
}

// HostAck returns the acknowledgement topic for one lock kind and direction.
func (t Topics) HostAck(kind, ack string) string {
	return fmt.Sprintf("%s/host/ack/%s/%s", t.prefix(), kind, ack)
}

// AllHostAcks returns a wildcard matching every acknowledgement topic.
func (t Topics) AllHostAcks() string {
	return t.prefix() + "/host/ack/+/+"
}

// HostCleanup returns the topic the host publishes cleanup requests on.
func (t Topics) HostCleanup() string {
	return t.prefix() + "/host/cleanup"
}

// ParseHostAck splits an acknowledgement topic into its kind and direction.
func (t Topics) ParseHostAck(topic string) (kind, ack string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/host/ack/")
	if !found {
		return "", "", false
	}
	kind, ack, found = strings.Cut(rest, "/")
	if !found || kind == "" || ack == "" || strings.Contains(ack, "/") {
		return "", "", false
	}
	return kind, ack, true
}
