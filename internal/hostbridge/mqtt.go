package hostbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/rws-client/internal/infrastructure/mqtt"
)

// DefaultSendTimeout bounds a Send whose context carries no deadline.
const DefaultSendTimeout = 3 * time.Second

var (
	// ErrMalformedAck is returned for an acknowledgement without a success flag.
	ErrMalformedAck = errors.New("hostbridge: malformed acknowledgement")

	// ErrUnknownAckTopic is returned for an acknowledgement topic nobody handles.
	ErrUnknownAckTopic = errors.New("hostbridge: no handler for acknowledgement topic")
)

// Publisher is the broker connection the bridge runs on.
// Satisfied by *mqtt.Client.
type Publisher interface {
	PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// AckHandler receives one host acknowledgement. ack is "requested" or "released".
type AckHandler func(ack string, success bool) error

// CleanupHandler runs a host-requested cleanup.
type CleanupHandler func(ctx context.Context) error

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type ackMessage struct {
	Success *bool `json:"success"`
}

// MQTTBridge carries host messages over an MQTT broker.
//
// Outbound messages are published on Topics.HostCommand. Acknowledgements
// arrive on Topics.HostAck(kind, ack) as {"success": bool} and are routed to
// the AckHandler registered for that kind. A message on Topics.HostCleanup
// starts the CleanupHandler in its own goroutine, so the acknowledgements it
// waits for can still be delivered.
type MQTTBridge struct {
	client      Publisher
	topics      mqtt.Topics
	qos         byte
	sendTimeout time.Duration

	mu      sync.RWMutex
	acks    map[string]AckHandler
	cleanup CleanupHandler
	logger  Logger

	wg sync.WaitGroup
}

// NewMQTTBridge creates a bridge on an already connected client.
func NewMQTTBridge(client Publisher, topics mqtt.Topics, qos byte) *MQTTBridge {
	return &MQTTBridge{
		client:      client,
		topics:      topics,
		qos:         qos,
		sendTimeout: DefaultSendTimeout,
		acks:        make(map[string]AckHandler),
		logger:      nopLogger{},
	}
}

// SetSendTimeout overrides DefaultSendTimeout. Non-positive values are ignored.
func (b *MQTTBridge) SetSendTimeout(d time.Duration) {
	if d > 0 {
		b.sendTimeout = d
	}
}

// SetLogger sets the logger for the bridge.
func (b *MQTTBridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// SetAckHandler registers the handler for one lock kind ("edit" or "motion").
func (b *MQTTBridge) SetAckHandler(kind string, h AckHandler) {
	b.mu.Lock()
	b.acks[kind] = h
	b.mu.Unlock()
}

// SetCleanupHandler registers the handler for host cleanup requests.
func (b *MQTTBridge) SetCleanupHandler(h CleanupHandler) {
	b.mu.Lock()
	b.cleanup = h
	b.mu.Unlock()
}

func (b *MQTTBridge) log() Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.logger
}

// Start subscribes to the acknowledgement and cleanup topics.
func (b *MQTTBridge) Start() error {
	if err := b.client.Subscribe(b.topics.AllHostAcks(), b.qos, b.handleAck); err != nil {
		return fmt.Errorf("subscribe to host acks: %w", err)
	}
	if err := b.client.Subscribe(b.topics.HostCleanup(), b.qos, b.handleCleanup); err != nil {
		return fmt.Errorf("subscribe to host cleanup: %w", err)
	}
	b.log().Info("host bridge started", "command_topic", b.topics.HostCommand())
	return nil
}

// Stop unsubscribes and waits for running cleanup handlers.
func (b *MQTTBridge) Stop() {
	for _, topic := range []string{b.topics.AllHostAcks(), b.topics.HostCleanup()} {
		if err := b.client.Unsubscribe(topic); err != nil {
			b.log().Warn("host bridge unsubscribe failed", "topic", topic, "error", err)
		}
	}
	b.wg.Wait()
}

// Send publishes message on the host command topic.
func (b *MQTTBridge) Send(ctx context.Context, message string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.sendTimeout)
		defer cancel()
	}

	if err := b.client.PublishContext(ctx, b.topics.HostCommand(), []byte(message), b.qos, false); err != nil {
		return fmt.Errorf("sending %q to host: %w", message, err)
	}
	b.log().Debug("host message sent", "message", message)
	return nil
}

func (b *MQTTBridge) handleAck(topic string, payload []byte) error {
	kind, ack, ok := b.topics.ParseHostAck(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAckTopic, topic)
	}

	var msg ackMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedAck, err)
	}
	if msg.Success == nil {
		return fmt.Errorf("%w: missing success flag", ErrMalformedAck)
	}

	b.mu.RLock()
	h := b.acks[kind]
	b.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAckTopic, topic)
	}
	return h(ack, *msg.Success)
}

func (b *MQTTBridge) handleCleanup(_ string, _ []byte) error {
	b.mu.RLock()
	h := b.cleanup
	b.mu.RUnlock()
	if h == nil {
		b.log().Warn("host cleanup requested with no handler registered")
		return nil
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := h(context.Background()); err != nil {
			b.log().Warn("host-requested cleanup failed", "error", err)
		}
	}()
	return nil
}
