package mastership

import (
	"fmt"
	"strings"

	"github.com/nerrad567/rws-client/internal/hostbridge"
)

// Kind selects which controller lock a Manager proxies.
type Kind int

const (
	// KindEdit is program and configuration edit mastership.
	KindEdit Kind = iota
	// KindMotion is motion mastership.
	KindMotion
)

// String returns the path segment used by the controller API.
func (k Kind) String() string {
	switch k {
	case KindEdit:
		return "edit"
	case KindMotion:
		return "motion"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses "edit" or "motion".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "edit":
		return KindEdit, nil
	case "motion":
		return KindMotion, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

func (k Kind) requestMessage() string {
	if k == KindMotion {
		return hostbridge.MsgRequestMotionMastership
	}
	return hostbridge.MsgRequestMastership
}

func (k Kind) releaseMessage() string {
	if k == KindMotion {
		return hostbridge.MsgReleaseMotionMastership
	}
	return hostbridge.MsgReleaseMastership
}

// AckKind identifies which host acknowledgement arrived.
type AckKind int

const (
	// AckRequested acknowledges a request message.
	AckRequested AckKind = iota
	// AckReleased acknowledges a release message.
	AckReleased
)

// String returns the acknowledgement name.
func (a AckKind) String() string {
	if a == AckReleased {
		return "released"
	}
	return "requested"
}

// ParseAckKind parses "requested" or "released".
func ParseAckKind(s string) (AckKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "requested":
		return AckRequested, nil
	case "released":
		return AckReleased, nil
	default:
		return 0, fmt.Errorf("%w: acknowledgement %q", ErrUnknownKind, s)
	}
}
