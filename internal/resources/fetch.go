package resources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerrad567/rws-client/internal/controller"
	"github.com/nerrad567/rws-client/internal/subscription"
)

// Getter is the part of the controller client FetchOnce needs.
type Getter interface {
	Get(ctx context.Context, path string, headers http.Header) (*controller.Response, error)
}

type stateBody struct {
	State    []map[string]any `json:"state"`
	Embedded struct {
		Resources []map[string]any `json:"resources"`
	} `json:"_embedded"`
}

// FetchOnce reads the handle's current state and delivers it to OnChanged,
// as if it had arrived on the subscription socket.
func FetchOnce(ctx context.Context, client Getter, h *Handle) error {
	if h.fetchPath == "" {
		return fmt.Errorf("%w: %s", ErrNotFetchable, h.resource)
	}

	resp, err := client.Get(ctx, h.fetchPath, nil)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", h.fetchPath, err)
	}

	var body stateBody
	if err := resp.DecodeHAL(&body); err != nil {
		return fmt.Errorf("fetching %s: %w", h.fetchPath, err)
	}

	states := body.State
	if len(states) == 0 {
		states = body.Embedded.Resources
	}
	if len(states) == 0 {
		return fmt.Errorf("fetching %s: %w: no state entry", h.fetchPath, controller.ErrMalformedResponse)
	}

	h.OnChanged(toEvent(states[0]))
	return nil
}

// InitialFire returns an initial-fire function for Manager.Subscribe that
// fetches every fetchable handle once. Handles without a state endpoint are
// skipped.
func InitialFire(client Getter, handles ...*Handle) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, h := range handles {
			if h.fetchPath == "" {
				continue
			}
			if err := FetchOnce(ctx, client, h); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// Subscribables converts handles for Manager.Subscribe.
func Subscribables(handles ...*Handle) []subscription.Subscribable {
	out := make([]subscription.Subscribable, len(handles))
	for i, h := range handles {
		out[i] = h
	}
	return out
}

// toEvent flattens one HAL state entry. Link and type metadata ("_links",
// "_type", "_title") is dropped.
func toEvent(state map[string]any) subscription.Event {
	ev := make(subscription.Event, len(state))
	for k, v := range state {
		if strings.HasPrefix(k, "_") {
			continue
		}
		switch val := v.(type) {
		case string:
			ev[k] = val
		case nil:
			ev[k] = ""
		default:
			ev[k] = fmt.Sprint(val)
		}
	}
	return ev
}
