package shutdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/rws-client/internal/hostbridge"
	"github.com/nerrad567/rws-client/internal/lifecycle"
)

// DefaultHostSendTimeout bounds the CleanedUp report to the host.
const DefaultHostSendTimeout = 3 * time.Second

// ErrAlreadyStarted is returned by every InitiateCleanup after the first.
var ErrAlreadyStarted = errors.New("shutdown: cleanup already started")

// Status is the application hook outcome reported to the host.
type Status string

const (
	// StatusOK means the hook succeeded, or there was none.
	StatusOK Status = "true"

	// StatusFailed means the hook returned false or an error.
	StatusFailed Status = "false"
)

// AppHook is the application's own cleanup, run first on app-initiated cleanup.
// Its boolean result becomes the reported Status.
type AppHook func(ctx context.Context) (bool, error)

// Subscriptions is the teardown surface of the subscription manager.
type Subscriptions interface {
	WaitGroupCreation(ctx context.Context) error
	UnsubscribeToAll(ctx context.Context) error
}

// Mastership is the teardown surface of a mastership manager.
type Mastership interface {
	ReleaseAll(ctx context.Context)
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

// Deps holds the components the Coordinator tears down.
type Deps struct {
	Lifecycle     *lifecycle.State
	Subscriptions Subscriptions
	Edit          Mastership
	Motion        Mastership

	// Host receives the CleanedUp report. Optional.
	Host hostbridge.Sender

	// AppHook runs before teardown on app-initiated cleanup. Optional.
	AppHook AppHook

	// HostSendTimeout bounds the CleanedUp report. Default: 3s.
	HostSendTimeout time.Duration

	Logger Logger
}

// Coordinator sequences process cleanup.
//
// Order: app hook, wait for any in-flight group creation, release all edit
// holders, release all motion holders, mark unloading, unsubscribe all.
type Coordinator struct {
	deps Deps

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Coordinator.
func New(deps Deps) *Coordinator {
	if deps.Lifecycle == nil {
		deps.Lifecycle = lifecycle.New()
	}
	if deps.HostSendTimeout <= 0 {
		deps.HostSendTimeout = DefaultHostSendTimeout
	}
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	return &Coordinator{
		deps: deps,
		done: make(chan struct{}),
	}
}

// Done is closed once the teardown steps have finished, including the
// subscription group delete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Started reports whether cleanup has begun.
func (c *Coordinator) Started() bool {
	return c.deps.Lifecycle.CleanupStarted()
}

// InitiateCleanup runs the cleanup sequence once per process.
//
// App- or host-initiated cleanup (initiatedByApp) awaits every step, logs
// failures without stopping, and reports CleanedUp to the host. Unload-
// initiated cleanup runs the release and unsubscribe steps in the background;
// wait on Done to give them a grace period.
//
// Returns:
//   - Status: the app hook outcome (StatusOK when there is no hook)
//   - error: ErrAlreadyStarted if cleanup was already running or finished
func (c *Coordinator) InitiateCleanup(ctx context.Context, initiatedByApp bool) (Status, error) {
	if !c.deps.Lifecycle.BeginCleanup() {
		return "", ErrAlreadyStarted
	}
	log := c.deps.Logger
	log.Info("cleanup started", "initiated_by_app", initiatedByApp)

	status := StatusOK
	if initiatedByApp && c.deps.AppHook != nil {
		ok, err := c.deps.AppHook(ctx)
		if err != nil {
			log.Warn("application cleanup hook failed", "error", err)
		}
		if err != nil || !ok {
			status = StatusFailed
		}
	}

	if c.deps.Subscriptions != nil {
		if err := c.deps.Subscriptions.WaitGroupCreation(ctx); err != nil {
			log.Warn("waiting for subscription group creation", "error", err)
		}
	}

	if !initiatedByApp {
		go func() {
			c.teardown(context.WithoutCancel(ctx))
			c.finish()
		}()
		return status, nil
	}

	c.teardown(ctx)
	c.report(ctx, status)
	c.finish()

	log.Info("cleanup complete", "status", string(status))
	return status, nil
}

func (c *Coordinator) teardown(ctx context.Context) {
	if c.deps.Edit != nil {
		c.deps.Edit.ReleaseAll(ctx)
	}
	if c.deps.Motion != nil {
		c.deps.Motion.ReleaseAll(ctx)
	}

	c.deps.Lifecycle.MarkUnloading()

	if c.deps.Subscriptions != nil {
		if err := c.deps.Subscriptions.UnsubscribeToAll(ctx); err != nil {
			c.deps.Logger.Warn("unsubscribe all failed", "error", err)
		}
	}
}

func (c *Coordinator) report(ctx context.Context, status Status) {
	if c.deps.Host == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.deps.HostSendTimeout)
	defer cancel()
	if err := c.deps.Host.Send(sendCtx, hostbridge.CleanedUp(status == StatusOK)); err != nil {
		c.deps.Logger.Warn("reporting cleanup to host failed", "error", err)
	}
}

func (c *Coordinator) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}
