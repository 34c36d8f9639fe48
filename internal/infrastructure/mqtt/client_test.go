package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/rws-client/internal/infrastructure/config"
)

const testBrokerAddr = "127.0.0.1:1883"

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: fmt.Sprintf("rwsclient-test-%d", time.Now().UnixNano()),
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to a local Mosquitto broker, skipping the test when
// none is listening.
func connectOrSkip(t *testing.T, topics Topics) *Client {
	t.Helper()

	conn, err := net.DialTimeout("tcp", testBrokerAddr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", testBrokerAddr, err)
	}
	conn.Close()

	client, err := Connect(testConfig(), topics)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "cell-7"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Status", topics.Status(), "cell-7/status"},
		{"HostCommand", topics.HostCommand(), "cell-7/host/command"},
		{"HostAck", topics.HostAck("motion", "requested"), "cell-7/host/ack/motion/requested"},
		{"AllHostAcks", topics.AllHostAcks(), "cell-7/host/ack/+/+"},
		{"HostCleanup", topics.HostCleanup(), "cell-7/host/cleanup"},
		{"default prefix", Topics{}.HostCommand(), "rwsclient/host/command"},
		{"slashes trimmed", Topics{Prefix: "/site/"}.Status(), "site/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseHostAck(t *testing.T) {
	topics := Topics{Prefix: "cell-7"}

	tests := []struct {
		topic    string
		wantKind string
		wantAck  string
		wantOK   bool
	}{
		{"cell-7/host/ack/edit/requested", "edit", "requested", true},
		{"cell-7/host/ack/motion/released", "motion", "released", true},
		{"cell-7/host/ack/edit", "", "", false},
		{"cell-7/host/ack/edit/requested/extra", "", "", false},
		{"other/host/ack/edit/requested", "", "", false},
		{"cell-7/host/cleanup", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, ack, ok := topics.ParseHostAck(tt.topic)
			if ok != tt.wantOK || kind != tt.wantKind || ack != tt.wantAck {
				t.Errorf("ParseHostAck(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, kind, ack, ok, tt.wantKind, tt.wantAck, tt.wantOK)
			}
		})
	}
}

func TestStatusPayload(t *testing.T) {
	var doc map[string]string
	if err := json.Unmarshal([]byte(statusPayload("offline", "rws-1", "graceful_shutdown")), &doc); err != nil {
		t.Fatalf("statusPayload() is not JSON: %v", err)
	}
	if doc["status"] != "offline" || doc["client_id"] != "rws-1" || doc["reason"] != "graceful_shutdown" {
		t.Errorf("statusPayload() = %v", doc)
	}
	if _, err := time.Parse(time.RFC3339, doc["timestamp"]); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", doc["timestamp"], err)
	}

	if strings.Contains(statusPayload("online", "rws-1", ""), "reason") {
		t.Error("statusPayload() with empty reason should omit the field")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "host"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.Username != "host" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want host/secret", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig not set with minimum version")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}

	configureLWT(opts, Topics{Prefix: "cell-7"}, cfg.Broker.ClientID)
	if !opts.WillEnabled || opts.WillTopic != "cell-7/status" || !opts.WillRetained {
		t.Errorf("will = enabled %v topic %q retained %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

// =============================================================================
// Disconnected Client Tests
// =============================================================================

func TestDisconnectedClient(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if c.IsConnected() {
		t.Error("IsConnected() = true, want false")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Publish("a/b", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	noop := func(string, []byte) error { return nil }
	if err := c.Subscribe("a/b", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Unsubscribe("a/b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("a", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish("a", make([]byte, maxPayloadSize+1), 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(large) error = %v, want ErrPublishFailed", err)
	}
	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestDeliverRecoversAndLogs(t *testing.T) {
	c := &Client{}
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.deliver(func(string, []byte) error { panic("boom") }, "a", nil)
	c.deliver(func(string, []byte) error { return errors.New("bad payload") }, "a", nil)

	if len(logger.errors) != 1 {
		t.Errorf("errors logged = %d, want 1", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings logged = %d, want 1", len(logger.warns))
	}
}

// =============================================================================
// Broker Tests (skipped without a local broker)
// =============================================================================

func TestPublishSubscribeRoundtrip(t *testing.T) {
	topics := Topics{Prefix: fmt.Sprintf("rwsclient-test-%d", time.Now().UnixNano())}
	client := connectOrSkip(t, topics)

	received := make(chan string, 1)
	err := client.Subscribe(topics.AllHostAcks(), 1, func(topic string, payload []byte) error {
		received <- topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topics.AllHostAcks()) {
		t.Error("HasSubscription() = false, want true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.PublishContext(ctx, topics.HostAck("edit", "requested"), []byte(`{"success":true}`), 1, false); err != nil {
		t.Fatalf("PublishContext() error = %v", err)
	}

	select {
	case got := <-received:
		want := topics.HostAck("edit", "requested") + ` {"success":true}`
		if got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(topics.AllHostAcks()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestHealthCheckConnected(t *testing.T) {
	client := connectOrSkip(t, Topics{})

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
