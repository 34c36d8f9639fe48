package resources

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/rws-client/internal/subscription"
)

// ErrNotFetchable is returned by FetchOnce for resources with no state endpoint.
var ErrNotFetchable = errors.New("resources: resource has no readable state")

// unsetPriority makes the subscription manager fall back to its default.
const unsetPriority = -1

// Handle is a subscribable controller resource backed by a callback.
//
// It records the last event it saw, so callers that only poll can read
// Last() instead of supplying a callback.
type Handle struct {
	resource  string
	title     string
	fetchPath string
	priority  int
	onChanged func(subscription.Event)

	mu   sync.RWMutex
	last subscription.Event
}

// New creates a Handle for an arbitrary resource string. fetchPath is the GET
// endpoint used by FetchOnce; empty disables it. fn may be nil.
func New(resource, title, fetchPath string, fn func(subscription.Event)) *Handle {
	return &Handle{
		resource:  resource,
		title:     title,
		fetchPath: fetchPath,
		priority:  unsetPriority,
		onChanged: fn,
	}
}

// ResourceString implements subscription.Subscribable.
func (h *Handle) ResourceString() string { return h.resource }

// Title implements subscription.Subscribable.
func (h *Handle) Title() string { return h.title }

// Priority implements subscription.Prioritized. An unset priority uses the
// manager's default.
func (h *Handle) Priority() int { return h.priority }

// WithPriority sets the subscription priority (0 low, 1 medium, 2 high) and
// returns h.
func (h *Handle) WithPriority(p int) *Handle {
	h.priority = p
	return h
}

// FetchPath returns the GET endpoint for the resource's current state.
func (h *Handle) FetchPath() string { return h.fetchPath }

// OnChanged implements subscription.Subscribable.
func (h *Handle) OnChanged(ev subscription.Event) {
	h.mu.Lock()
	h.last = maps.Clone(ev)
	h.mu.Unlock()

	if h.onChanged != nil {
		h.onChanged(ev)
	}
}

// Last returns a copy of the most recent event, or nil if none arrived yet.
func (h *Handle) Last() subscription.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return maps.Clone(h.last)
}

// ControllerState follows the controller state (motoron, motoroff, guardstop...).
func ControllerState(fn func(subscription.Event)) *Handle {
	return New("/rw/panel/ctrl-state", "controller state", "/rw/panel/ctrl-state", fn)
}

// OperationMode follows the operation mode (AUTO, MANR, MANF).
func OperationMode(fn func(subscription.Event)) *Handle {
	return New("/rw/panel/opmode", "operation mode", "/rw/panel/opmode", fn)
}

// ExecutionState follows the RAPID execution state (running, stopped).
func ExecutionState(fn func(subscription.Event)) *Handle {
	return New(subscription.ExecutionStateResource, "rapid execution state", "/rw/rapid/execution", fn)
}

// RapidData follows the value of a RAPID symbol.
func RapidData(task, module, symbol string, fn func(subscription.Event)) *Handle {
	base := "/rw/rapid/symbol/RAPID/" + task + "/" + module + "/" + symbol
	return New(base+";value", fmt.Sprintf("rapid %s:%s:%s", task, module, symbol), base+"/data", fn)
}

// Signal follows an I/O signal. path is the signal path below
// /rw/iosystem/signals, e.g. "Local/DRV_1/DO1" or just "DO1".
func Signal(path string, fn func(subscription.Event)) *Handle {
	base := "/rw/iosystem/signals/" + strings.Trim(path, "/")
	return New(base+";state", "signal "+path, base, fn)
}

// ElogDomain follows new event log messages in one domain. There is no
// single state to fetch, so FetchOnce is not supported.
func ElogDomain(domain int, fn func(subscription.Event)) *Handle {
	return New("/rw/elog/"+strconv.Itoa(domain), "elog domain "+strconv.Itoa(domain), "", fn)
}
