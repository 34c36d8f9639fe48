package resources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nerrad567/rws-client/internal/controller"
	"github.com/nerrad567/rws-client/internal/subscription"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name      string
		h         *Handle
		resource  string
		fetchPath string
	}{
		{"controller state", ControllerState(nil), "/rw/panel/ctrl-state", "/rw/panel/ctrl-state"},
		{"operation mode", OperationMode(nil), "/rw/panel/opmode", "/rw/panel/opmode"},
		{"execution state", ExecutionState(nil), "/rw/rapid/execution;ctrlexecstate", "/rw/rapid/execution"},
		{
			"rapid data", RapidData("T_ROB1", "user", "reg1", nil),
			"/rw/rapid/symbol/RAPID/T_ROB1/user/reg1;value",
			"/rw/rapid/symbol/RAPID/T_ROB1/user/reg1/data",
		},
		{
			"signal", Signal("/Local/DRV_1/DO1", nil),
			"/rw/iosystem/signals/Local/DRV_1/DO1;state",
			"/rw/iosystem/signals/Local/DRV_1/DO1",
		},
		{"elog", ElogDomain(0, nil), "/rw/elog/0", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.h.ResourceString(); got != tt.resource {
				t.Errorf("ResourceString() = %q, want %q", got, tt.resource)
			}
			if got := tt.h.FetchPath(); got != tt.fetchPath {
				t.Errorf("FetchPath() = %q, want %q", got, tt.fetchPath)
			}
			if tt.h.Title() == "" {
				t.Error("Title() is empty")
			}
		})
	}
}

func TestHandle_PriorityAndInterfaces(t *testing.T) {
	var _ subscription.Subscribable = (*Handle)(nil)
	var _ subscription.Prioritized = (*Handle)(nil)

	h := Signal("DI1", nil)
	if h.Priority() != unsetPriority {
		t.Errorf("Priority() = %d, want unset", h.Priority())
	}
	if h.WithPriority(subscription.PriorityHigh).Priority() != subscription.PriorityHigh {
		t.Errorf("WithPriority(high) not applied")
	}
}

func TestHandle_OnChangedRecordsLast(t *testing.T) {
	var got subscription.Event
	h := OperationMode(func(ev subscription.Event) { got = ev })

	if h.Last() != nil {
		t.Errorf("Last() = %v before any event, want nil", h.Last())
	}

	h.OnChanged(subscription.Event{"opmode": "AUTO"})
	if got["opmode"] != "AUTO" {
		t.Errorf("callback event = %v", got)
	}

	last := h.Last()
	last["opmode"] = "MANR"
	if h.Last()["opmode"] != "AUTO" {
		t.Error("Last() should return a copy")
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *controller.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := controller.New(controller.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("controller.New() error = %v", err)
	}
	return c
}

func TestFetchOnce(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rw/panel/opmode":
			w.Write([]byte(`{"_links":{},"state":[{"_type":"pnl-opmode","_title":"opmode","opmode":"AUTO"}]}`))
		case "/rw/iosystem/signals/DO1":
			w.Write([]byte(`{"_embedded":{"resources":[{"_type":"ios-signal","name":"DO1","lvalue":1,"lstate":"not simulated"}]}}`))
		case "/rw/panel/ctrl-state":
			w.Write([]byte(`{"state":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	mode := OperationMode(nil)
	if err := FetchOnce(ctx, client, mode); err != nil {
		t.Fatalf("FetchOnce(opmode) error = %v", err)
	}
	if got := mode.Last(); len(got) != 1 || got["opmode"] != "AUTO" {
		t.Errorf("opmode event = %v, want only opmode=AUTO", got)
	}

	sig := Signal("DO1", nil)
	if err := FetchOnce(ctx, client, sig); err != nil {
		t.Fatalf("FetchOnce(signal) error = %v", err)
	}
	if got := sig.Last(); got["lvalue"] != "1" || got["name"] != "DO1" {
		t.Errorf("signal event = %v", got)
	}

	if err := FetchOnce(ctx, client, ControllerState(nil)); !errors.Is(err, controller.ErrMalformedResponse) {
		t.Errorf("FetchOnce(empty state) error = %v, want ErrMalformedResponse", err)
	}
	if err := FetchOnce(ctx, client, ElogDomain(0, nil)); !errors.Is(err, ErrNotFetchable) {
		t.Errorf("FetchOnce(elog) error = %v, want ErrNotFetchable", err)
	}

	err := FetchOnce(ctx, client, RapidData("T_ROB1", "user", "missing", nil))
	if code := controller.HTTPCode(err); code != http.StatusNotFound {
		t.Errorf("FetchOnce(missing) HTTP code = %d, want 404 (err %v)", code, err)
	}
}

func TestInitialFire(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rw/panel/opmode" {
			w.Write([]byte(`{"state":[{"opmode":"MANR"}]}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	mode := OperationMode(nil)
	elog := ElogDomain(0, nil)
	state := ControllerState(nil)

	err := InitialFire(client, mode, elog, state)(context.Background())
	if err == nil {
		t.Fatal("InitialFire() error = nil, want the controller state failure")
	}
	if mode.Last()["opmode"] != "MANR" {
		t.Errorf("opmode not fired: %v", mode.Last())
	}

	subs := Subscribables(mode, elog)
	if len(subs) != 2 || subs[0].ResourceString() != "/rw/panel/opmode" {
		t.Errorf("Subscribables() = %v", subs)
	}
}
