package mastership

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/rws-client/internal/controller"
	"github.com/nerrad567/rws-client/internal/hostbridge"
	"github.com/nerrad567/rws-client/internal/lifecycle"
)

// DefaultHostAckTimeout bounds the wait for a host acknowledgement.
const DefaultHostAckTimeout = 30 * time.Second

// Transport is the subset of the controller client used for direct mode.
// *controller.Client satisfies it.
type Transport interface {
	Post(ctx context.Context, path, body string, headers http.Header) (*controller.Response, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Transition names passed to an Observer.
const (
	TransitionAcquired      = "acquired"
	TransitionAcquireFailed = "acquire_failed"
	TransitionReleased      = "released"
	TransitionReleaseFailed = "release_failed"
	TransitionReleasedAll   = "released_all"
)

// Observer is notified of every real lock transition with the count after it.
type Observer func(kind Kind, transition string, count int)

// Config holds Manager settings.
type Config struct {
	Kind Kind

	// HostAckTimeout bounds each host round trip. Zero waits forever.
	HostAckTimeout time.Duration
}

type opKind int

const (
	opRequest opKind = iota
	opRelease
	opReleaseAll
)

type op struct {
	kind opKind
	ctx  context.Context
	done chan error
}

// Manager is a reference-counted proxy for one controller lock.
//
// Callers request and release freely; only the 0->1 and 1->0 transitions of
// the holder count reach the controller (or the host). Operations are queued
// and processed by a single drainer, so at most one real acquire or release
// is in flight and callers are resolved in the order they called.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - An edit and a motion Manager share nothing and never order each other.
type Manager struct {
	cfg       Config
	transport Transport
	life      *lifecycle.State

	mu       sync.Mutex
	count    int
	pending  []*op
	busy     bool
	host     hostbridge.Sender
	acks     map[AckKind][]chan bool
	observer Observer
	logger   Logger
}

// NewManager creates a Manager for cfg.Kind.
func NewManager(cfg Config, transport Transport, life *lifecycle.State) *Manager {
	if cfg.HostAckTimeout < 0 {
		cfg.HostAckTimeout = DefaultHostAckTimeout
	}
	if life == nil {
		life = lifecycle.New()
	}
	return &Manager{
		cfg:       cfg,
		transport: transport,
		life:      life,
		acks:      make(map[AckKind][]chan bool),
		logger:    nopLogger{},
	}
}

// Kind returns which lock this Manager proxies.
func (m *Manager) Kind() Kind {
	return m.cfg.Kind
}

// SetLogger sets the logger for mastership diagnostics.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger == nil {
		m.logger = nopLogger{}
		return
	}
	m.logger = logger
}

// SetHost switches the Manager to host mode: transitions are sent as host
// messages and completed by HandleHostAcknowledgement.
func (m *Manager) SetHost(host hostbridge.Sender) {
	m.mu.Lock()
	m.host = host
	m.mu.Unlock()
}

// SetObserver registers a callback for lock transitions.
func (m *Manager) SetObserver(fn Observer) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// Count returns the number of outstanding holders.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Request registers one more holder and returns once the lock is held.
//
// If ctx ends first, Request returns ctx.Err() and the queued request still
// completes; if it succeeds it is released again automatically.
//
// Returns:
//   - error: ErrCleanupStarted once cleanup began; ErrAcquireFailed wrapping
//     the transport or host failure when the real acquire failed
func (m *Manager) Request(ctx context.Context) error {
	if m.life.CleanupStarted() {
		return ErrCleanupStarted
	}

	o := m.enqueue(ctx, opRequest)
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		go m.compensate(o)
		return ctx.Err()
	}
}

// compensate releases an abandoned request once its outcome is known.
func (m *Manager) compensate(o *op) {
	if err := <-o.done; err != nil {
		return
	}
	m.log().Info("releasing abandoned mastership request", "kind", m.cfg.Kind.String())
	if err := m.Release(context.WithoutCancel(o.ctx)); err != nil {
		m.log().Warn("abandoned request release failed", "kind", m.cfg.Kind.String(), "error", err)
	}
}

// Release drops one holder. When the last holder goes, the real lock is
// released; a failure to do so is logged and not returned. Releasing with no
// holders is a logged no-op.
func (m *Manager) Release(ctx context.Context) error {
	o := m.enqueue(ctx, opRelease)
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseAll drops every holder at once and releases the real lock. It is
// best-effort: failures are logged. It returns when done or when ctx ends.
func (m *Manager) ReleaseAll(ctx context.Context) {
	o := m.enqueue(ctx, opReleaseAll)
	select {
	case <-o.done:
	case <-ctx.Done():
	}
}

// HandleHostAcknowledgement delivers a host acknowledgement to the oldest
// waiter of the matching kind. Unmatched acknowledgements are logged and dropped.
func (m *Manager) HandleHostAcknowledgement(ack AckKind, success bool) {
	m.mu.Lock()
	waiters := m.acks[ack]
	if len(waiters) == 0 {
		logger := m.logger
		m.mu.Unlock()
		logger.Warn("unexpected host acknowledgement",
			"kind", m.cfg.Kind.String(),
			"ack", ack.String(),
			"success", success,
		)
		return
	}
	ch := waiters[0]
	m.acks[ack] = waiters[1:]
	m.mu.Unlock()

	ch <- success
}

// HandleHostAck is HandleHostAcknowledgement with the acknowledgement given
// by name ("requested" or "released").
func (m *Manager) HandleHostAck(ack string, success bool) error {
	kind, err := ParseAckKind(ack)
	if err != nil {
		return err
	}
	m.HandleHostAcknowledgement(kind, success)
	return nil
}

func (m *Manager) log() Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}

func (m *Manager) enqueue(ctx context.Context, kind opKind) *op {
	o := &op{kind: kind, ctx: ctx, done: make(chan error, 1)}

	m.mu.Lock()
	m.pending = append(m.pending, o)
	if !m.busy {
		m.busy = true
		go m.drain()
	}
	m.mu.Unlock()

	return o
}

// drain processes queued operations until none are left.
func (m *Manager) drain() {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.busy = false
			m.mu.Unlock()
			return
		}
		o := m.pending[0]
		m.pending = m.pending[1:]

		switch o.kind {
		case opRequest:
			if m.count > 0 {
				m.count++
				m.mu.Unlock()
				o.done <- nil
				continue
			}

			// Requests already waiting behind this one share its acquire.
			batch := []*op{o}
			for len(m.pending) > 0 && m.pending[0].kind == opRequest {
				batch = append(batch, m.pending[0])
				m.pending = m.pending[1:]
			}
			m.mu.Unlock()
			m.acquire(batch)

		case opRelease:
			switch {
			case m.count == 0:
				logger := m.logger
				m.mu.Unlock()
				logger.Info("release without holders ignored", "kind", m.cfg.Kind.String())
			case m.count > 1:
				m.count--
				m.mu.Unlock()
			default:
				m.count = 0
				m.mu.Unlock()
				m.release(o.ctx)
			}
			o.done <- nil

		case opReleaseAll:
			n := m.count
			m.count = 0
			m.mu.Unlock()
			m.releaseAll(o.ctx, n)
			o.done <- nil
		}
	}
}

func (m *Manager) acquire(batch []*op) {
	ctx := context.WithoutCancel(batch[0].ctx)
	err := m.transition(ctx, true)

	m.mu.Lock()
	if err == nil {
		m.count += len(batch)
	}
	count := m.count
	observer := m.observer
	logger := m.logger
	m.mu.Unlock()

	if err != nil {
		logger.Warn("mastership acquire failed", "kind", m.cfg.Kind.String(), "waiters", len(batch), "error", err)
		err = fmt.Errorf("%w: %w", ErrAcquireFailed, err)
		notify(observer, m.cfg.Kind, TransitionAcquireFailed, count)
	} else {
		logger.Debug("mastership acquired", "kind", m.cfg.Kind.String(), "count", count)
		notify(observer, m.cfg.Kind, TransitionAcquired, count)
	}

	for _, o := range batch {
		o.done <- err
	}
}

func (m *Manager) release(ctx context.Context) {
	err := m.transition(context.WithoutCancel(ctx), false)

	m.mu.Lock()
	observer := m.observer
	logger := m.logger
	m.mu.Unlock()

	if err != nil {
		logger.Warn("mastership release failed, lock may linger on controller",
			"kind", m.cfg.Kind.String(),
			"error", err,
		)
		notify(observer, m.cfg.Kind, TransitionReleaseFailed, 0)
		return
	}
	logger.Debug("mastership released", "kind", m.cfg.Kind.String())
	notify(observer, m.cfg.Kind, TransitionReleased, 0)
}

// releaseAll releases n holders. Direct mode issues a single release; host
// mode sends one release message per holder and waits for the acks together.
func (m *Manager) releaseAll(ctx context.Context, n int) {
	ctx = context.WithoutCancel(ctx)

	m.mu.Lock()
	host := m.host
	observer := m.observer
	logger := m.logger
	m.mu.Unlock()

	if n == 0 {
		return
	}

	var err error
	if host == nil {
		_, err = m.transport.Post(ctx, m.path("release"), "", nil)
	} else {
		err = m.releaseAllViaHost(ctx, host, n)
	}
	if err != nil {
		logger.Warn("mastership release all failed", "kind", m.cfg.Kind.String(), "holders", n, "error", err)
	} else {
		logger.Info("mastership released for all holders", "kind", m.cfg.Kind.String(), "holders", n)
	}
	notify(observer, m.cfg.Kind, TransitionReleasedAll, 0)
}

func (m *Manager) releaseAllViaHost(ctx context.Context, host hostbridge.Sender, n int) error {
	waiters := make([]chan bool, 0, n)
	var errs []error
	for i := 0; i < n; i++ {
		ch := m.addWaiter(AckReleased)
		if err := host.Send(ctx, m.cfg.Kind.releaseMessage()); err != nil {
			m.removeWaiter(AckReleased, ch)
			errs = append(errs, fmt.Errorf("%w: %w", ErrHostSend, err))
			continue
		}
		waiters = append(waiters, ch)
	}

	var timeout <-chan time.Time
	if m.cfg.HostAckTimeout > 0 {
		timer := time.NewTimer(m.cfg.HostAckTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for i, ch := range waiters {
		select {
		case ok := <-ch:
			if !ok {
				errs = append(errs, ErrHostRejected)
			}
		case <-timeout:
			for _, rest := range waiters[i:] {
				m.removeWaiter(AckReleased, rest)
			}
			return errors.Join(append(errs, ErrHostAckTimeout)...)
		}
	}
	return errors.Join(errs...)
}

// transition performs one real acquire (request=true) or release.
func (m *Manager) transition(ctx context.Context, request bool) error {
	m.mu.Lock()
	host := m.host
	m.mu.Unlock()

	if host == nil {
		action := "release"
		if request {
			action = "request"
		}
		_, err := m.transport.Post(ctx, m.path(action), "", nil)
		return err
	}

	ack, msg := AckReleased, m.cfg.Kind.releaseMessage()
	if request {
		ack, msg = AckRequested, m.cfg.Kind.requestMessage()
	}

	ch := m.addWaiter(ack)
	if err := host.Send(ctx, msg); err != nil {
		m.removeWaiter(ack, ch)
		return fmt.Errorf("%w: %w", ErrHostSend, err)
	}

	var timeout <-chan time.Time
	if m.cfg.HostAckTimeout > 0 {
		timer := time.NewTimer(m.cfg.HostAckTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ok := <-ch:
		if !ok {
			return ErrHostRejected
		}
		return nil
	case <-timeout:
		if !m.removeWaiter(ack, ch) {
			// The ack raced the timer; honour it.
			if ok := <-ch; ok {
				return nil
			}
			return ErrHostRejected
		}
		return fmt.Errorf("%w: %s after %s", ErrHostAckTimeout, msg, m.cfg.HostAckTimeout)
	}
}

func (m *Manager) path(action string) string {
	return "/rw/mastership/" + m.cfg.Kind.String() + "/" + action
}

func (m *Manager) addWaiter(ack AckKind) chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.acks[ack] = append(m.acks[ack], ch)
	m.mu.Unlock()
	return ch
}

// removeWaiter drops ch from the waiters of ack, reporting whether it was still there.
func (m *Manager) removeWaiter(ack AckKind, ch chan bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiters := m.acks[ack]
	for i, w := range waiters {
		if w == ch {
			m.acks[ack] = append(waiters[:i:i], waiters[i+1:]...)
			return true
		}
	}
	return false
}

func notify(observer Observer, kind Kind, transition string, count int) {
	if observer != nil {
		observer(kind, transition, count)
	}
}
