package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/rws-client/internal/hostbridge"
	"github.com/nerrad567/rws-client/internal/lifecycle"
)

// Default subscription settings.
const (
	DefaultProtocol          = "rws_subscription"
	DefaultStartupTimeout    = 15 * time.Second
	DefaultClosePollInterval = 100 * time.Millisecond
	DefaultClosePollAttempts = 10
	DefaultCloseGrace        = 2 * time.Second
	DefaultHostSendTimeout   = 3 * time.Second

	subscriptionPath = "/subscription"
)

// Config holds Manager settings. Zero durations and counts take the defaults
// above; DefaultPriority is used as given when it is a valid priority.
type Config struct {
	Protocol          string
	DefaultPriority   int
	StartupTimeout    time.Duration
	ClosePollInterval time.Duration
	ClosePollAttempts int

	// CloseGrace is how long a closing socket may wait for the peer's close
	// frame before it is torn down.
	CloseGrace time.Duration

	// HostSendTimeout bounds DeleteSubscriptionGroup messages to the host.
	HostSendTimeout time.Duration
}

type socketState int

const (
	socketNone socketState = iota
	socketOpen
	socketClosing
)

// Manager owns the subscription group, its socket and the mapping from
// resource string to subscribers.
//
// Every Subscribe and Unsubscribe runs through one OperationQueue, so at most
// one group network operation is in flight. Events are dispatched from the
// socket reader goroutine.
type Manager struct {
	cfg       Config
	transport Transport
	life      *lifecycle.State
	queue     *OperationQueue
	dialer    *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	state    socketState
	groupID  string
	subs     map[string][]Subscribable
	creating chan struct{}
	host     hostbridge.Sender
	observer EventObserver
	logger   Logger
}

// NewManager creates a Manager. No network activity happens until the first
// Subscribe.
func NewManager(cfg Config, transport Transport, life *lifecycle.State) *Manager {
	if cfg.Protocol == "" {
		cfg.Protocol = DefaultProtocol
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.ClosePollInterval <= 0 {
		cfg.ClosePollInterval = DefaultClosePollInterval
	}
	if cfg.ClosePollAttempts <= 0 {
		cfg.ClosePollAttempts = DefaultClosePollAttempts
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultCloseGrace
	}
	if cfg.HostSendTimeout <= 0 {
		cfg.HostSendTimeout = DefaultHostSendTimeout
	}
	if cfg.DefaultPriority < PriorityLow || cfg.DefaultPriority > PriorityHigh {
		cfg.DefaultPriority = PriorityMedium
	}
	if life == nil {
		life = lifecycle.New()
	}

	return &Manager{
		cfg:       cfg,
		transport: transport,
		life:      life,
		queue:     NewOperationQueue(),
		dialer: &websocket.Dialer{
			Subprotocols:     []string{cfg.Protocol},
			Jar:              transport.Jar(),
			TLSClientConfig:  transport.TLSConfig(),
			HandshakeTimeout: cfg.StartupTimeout,
		},
		subs:   make(map[string][]Subscribable),
		logger: nopLogger{},
	}
}

// SetLogger sets the logger for subscription diagnostics.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger == nil {
		m.logger = nopLogger{}
		return
	}
	m.logger = logger
}

// SetHost routes group deletion through the host while unloading.
func (m *Manager) SetHost(host hostbridge.Sender) {
	m.mu.Lock()
	m.host = host
	m.mu.Unlock()
}

// SetEventObserver registers a callback that sees every dispatched event.
func (m *Manager) SetEventObserver(fn EventObserver) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

func (m *Manager) log() Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}

// GroupID returns the current subscription group id, or "" if none exists.
func (m *Manager) GroupID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groupID
}

// ResourceCount returns the number of registered resource strings.
func (m *Manager) ResourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Resources returns the registered resource strings with their subscriber counts.
func (m *Manager) Resources() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.subs))
	for res, set := range m.subs {
		out[res] = len(set)
	}
	return out
}

// Subscribe registers each subscribable for change notifications.
//
// Resource strings that are already registered only gain a subscriber; new
// ones are registered with the controller in one request, creating the group
// and socket first if needed. A subscribable without a resource string is
// skipped with a warning. initialFire, if given, runs after a successful
// registration; its error is logged, not returned.
//
// Returns:
//   - error: ErrCleanupStarted once cleanup began, otherwise the group
//     creation or transport error (already registered resources are untouched)
func (m *Manager) Subscribe(ctx context.Context, subs []Subscribable, initialFire func(ctx context.Context) error) error {
	if m.life.CleanupStarted() {
		return ErrCleanupStarted
	}

	if err := m.queue.Do(ctx, func(ctx context.Context) error {
		return m.subscribe(ctx, subs)
	}); err != nil {
		return err
	}

	if initialFire != nil {
		if err := initialFire(ctx); err != nil {
			m.log().Warn("initial fire failed", "error", err)
		}
	}
	return nil
}

// registration is one new resource string awaiting network registration.
type registration struct {
	resource string
	priority int
	subs     []Subscribable
}

func (m *Manager) subscribe(ctx context.Context, subs []Subscribable) error {
	if m.life.CleanupStarted() {
		return ErrCleanupStarted
	}

	if err := m.awaitSocketClosed(ctx); err != nil {
		return err
	}

	var fresh []*registration
	index := make(map[string]*registration)

	m.mu.Lock()
	open := m.state == socketOpen
	for _, s := range subs {
		if s == nil {
			continue
		}
		res := normalizeResource(s.ResourceString())
		if res == "" {
			m.logger.Warn("skipping subscribable without resource string", "title", s.Title())
			continue
		}
		if set, ok := m.subs[res]; ok && open {
			if !contains(set, s) {
				m.subs[res] = append(set, s)
			}
			continue
		}
		if reg, ok := index[res]; ok {
			if !contains(reg.subs, s) {
				reg.subs = append(reg.subs, s)
			}
			continue
		}
		reg := &registration{resource: res, priority: m.priorityOf(s), subs: []Subscribable{s}}
		index[res] = reg
		fresh = append(fresh, reg)
	}
	haveGroup := open && m.groupID != ""
	groupID := m.groupID
	m.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	body := registrationBody(fresh)
	if haveGroup {
		if _, err := m.transport.Put(ctx, subscriptionPath+"/"+groupID, body, nil); err != nil {
			return err
		}
	} else {
		var err error
		if groupID, err = m.createGroup(ctx, body); err != nil {
			return err
		}
	}

	// The socket may have dropped while the request was in flight, taking the
	// group and its registrations with it.
	m.mu.Lock()
	if m.state != socketOpen || m.groupID != groupID {
		m.mu.Unlock()
		if !haveGroup {
			m.deleteDetached(ctx, subscriptionPath+"/"+groupID)
		}
		return fmt.Errorf("%w: group %s", ErrGroupLost, groupID)
	}
	for _, reg := range fresh {
		for _, s := range reg.subs {
			if !contains(m.subs[reg.resource], s) {
				m.subs[reg.resource] = append(m.subs[reg.resource], s)
			}
		}
	}
	m.mu.Unlock()

	m.log().Debug("subscribed", "resources", len(fresh), "group", groupID)
	return nil
}

func (m *Manager) priorityOf(s Subscribable) int {
	if p, ok := s.(Prioritized); ok {
		if pr := p.Priority(); pr >= PriorityLow && pr <= PriorityHigh {
			return pr
		}
	}
	return m.cfg.DefaultPriority
}

// registrationBody encodes resources=<n>&<i>=<res>&<i>-p=<prio>, indices from 1.
func registrationBody(regs []*registration) string {
	var b strings.Builder
	b.WriteString("resources=")
	b.WriteString(strconv.Itoa(len(regs)))
	for i, reg := range regs {
		n := strconv.Itoa(i + 1)
		b.WriteString("&" + n + "=" + url.QueryEscape(reg.resource))
		b.WriteString("&" + n + "-p=" + strconv.Itoa(reg.priority))
	}
	return b.String()
}

// Unsubscribe removes each subscribable from its resource's subscriber set.
// A resource whose set empties is deleted from the group; when none remain
// the socket is closed.
//
// Returns:
//   - error: ErrSocketNotOpen without an open socket; ErrNotSubscribed (joined
//     per subscribable) for unknown subscribables; transport errors of deletes
func (m *Manager) Unsubscribe(ctx context.Context, subs []Subscribable) error {
	return m.queue.Do(ctx, func(ctx context.Context) error {
		return m.unsubscribe(ctx, subs)
	})
}

func (m *Manager) unsubscribe(ctx context.Context, subs []Subscribable) error {
	var errs []error
	var emptied []string

	m.mu.Lock()
	if m.state != socketOpen {
		m.mu.Unlock()
		return ErrSocketNotOpen
	}
	for _, s := range subs {
		if s == nil {
			continue
		}
		res := normalizeResource(s.ResourceString())
		set := m.subs[res]
		idx := indexOf(set, s)
		if idx < 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNotSubscribed, s.Title()))
			continue
		}
		set = append(set[:idx:idx], set[idx+1:]...)
		if len(set) == 0 {
			delete(m.subs, res)
			emptied = append(emptied, res)
			continue
		}
		m.subs[res] = set
	}
	groupID := m.groupID
	m.mu.Unlock()

	for _, res := range emptied {
		if _, err := m.transport.Delete(ctx, subscriptionPath+"/"+groupID+res, nil); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	var conn *websocket.Conn
	if len(emptied) > 0 && len(m.subs) == 0 && m.state == socketOpen {
		conn = m.conn
		m.state = socketClosing
	}
	m.mu.Unlock()

	if conn != nil {
		m.log().Debug("last resource removed, closing socket", "group", groupID)
		m.closeConn(conn)
	}

	return errors.Join(errs...)
}

// UnsubscribeToAll tears down the whole group. Local state is cleared first.
//
// The group delete is always awaited. While unloading it no longer follows
// ctx cancellation: it goes to the host as DeleteSubscriptionGroup when a
// host is attached, otherwise straight to the controller.
func (m *Manager) UnsubscribeToAll(ctx context.Context) error {
	m.mu.Lock()
	groupID := m.groupID
	conn := m.conn
	host := m.host
	m.subs = make(map[string][]Subscribable)
	m.groupID = ""
	if conn != nil {
		m.state = socketClosing
	}
	m.mu.Unlock()

	if conn != nil {
		defer m.closeConn(conn)
	}
	if groupID == "" {
		return nil
	}

	path := subscriptionPath + "/" + groupID
	if m.life.Unloading() {
		ctx = context.WithoutCancel(ctx)
		if host != nil {
			sendCtx, cancel := context.WithTimeout(ctx, m.cfg.HostSendTimeout)
			defer cancel()
			if err := host.Send(sendCtx, hostbridge.DeleteSubscriptionGroup(groupID)); err != nil {
				m.log().Warn("host group delete failed", "group", groupID, "error", err)
			}
			return nil
		}
	}

	if _, err := m.transport.Delete(ctx, path, nil); err != nil {
		return fmt.Errorf("deleting group %s: %w", groupID, err)
	}
	return nil
}

// WaitGroupCreation blocks until any in-flight group creation has finished.
func (m *Manager) WaitGroupCreation(ctx context.Context) error {
	m.mu.Lock()
	creating := m.creating
	m.mu.Unlock()
	if creating == nil {
		return nil
	}
	select {
	case <-creating:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deleteDetached issues a best-effort delete that outlives ctx.
func (m *Manager) deleteDetached(ctx context.Context, path string) {
	logger := m.log()
	go func() {
		if _, err := m.transport.Delete(context.WithoutCancel(ctx), path, nil); err != nil {
			logger.Warn("detached group delete failed", "path", path, "error", err)
		}
	}()
}

func contains(set []Subscribable, s Subscribable) bool {
	return indexOf(set, s) >= 0
}

func indexOf(set []Subscribable, s Subscribable) int {
	for i, x := range set {
		if x == s {
			return i
		}
	}
	return -1
}
