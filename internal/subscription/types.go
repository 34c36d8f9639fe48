package subscription

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"

	"github.com/nerrad567/rws-client/internal/controller"
)

// Priority levels accepted by the controller for a subscribed resource.
const (
	PriorityLow    = 0
	PriorityMedium = 1
	PriorityHigh   = 2
)

// Event is the flat field map decoded from one change notification.
type Event map[string]string

// Subscribable is anything that can be subscribed to change notifications.
//
// The Manager holds a non-owning reference while a subscription is active and
// calls OnChanged from its socket reader goroutine, outside any lock.
type Subscribable interface {
	// ResourceString identifies the controller resource and event class.
	ResourceString() string

	// Title is used for diagnostics only.
	Title() string

	// OnChanged receives one decoded event for the resource.
	OnChanged(ev Event)
}

// Prioritized is implemented by subscribables that want a non-default priority.
type Prioritized interface {
	Priority() int
}

// EventObserver receives every dispatched event after the subscribers.
// Used by the journal.
type EventObserver func(resource string, ev Event, subscribers int)

// Transport is the subset of the controller client used by the Manager.
// *controller.Client satisfies it.
type Transport interface {
	Post(ctx context.Context, path, body string, headers http.Header) (*controller.Response, error)
	Put(ctx context.Context, path, body string, headers http.Header) (*controller.Response, error)
	Delete(ctx context.Context, path string, headers http.Header) (*controller.Response, error)
	BaseURL() *url.URL
	Jar() http.CookieJar
	TLSConfig() *tls.Config
	AuthHeader() http.Header
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
