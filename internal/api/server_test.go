package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/rws-client/internal/auth"
	"github.com/nerrad567/rws-client/internal/infrastructure/config"
	"github.com/nerrad567/rws-client/internal/infrastructure/logging"
	"github.com/nerrad567/rws-client/internal/journal"
	"github.com/nerrad567/rws-client/internal/mastership"
	"github.com/nerrad567/rws-client/internal/shutdown"
	"github.com/nerrad567/rws-client/internal/subscription"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type fakeSubs struct {
	mu           sync.Mutex
	subscribed   []subscription.Subscribable
	unsubscribed []string
	subscribeErr error
	// lateRegister registers the subscribables even when subscribeErr is
	// returned, like a queued subscribe finishing after its caller gave up.
	lateRegister bool
}

func (f *fakeSubs) GroupID() string { return "7" }

func (f *fakeSubs) Resources() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, s := range f.subscribed {
		out[s.ResourceString()]++
	}
	return out
}

func (f *fakeSubs) Subscribe(_ context.Context, subs []subscription.Subscribable, _ func(context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		if f.lateRegister {
			f.subscribed = append(f.subscribed, subs...)
		}
		return f.subscribeErr
	}
	f.subscribed = append(f.subscribed, subs...)
	return nil
}

func (f *fakeSubs) Unsubscribe(_ context.Context, subs []subscription.Subscribable) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range subs {
		f.unsubscribed = append(f.unsubscribed, s.ResourceString())
		for i, have := range f.subscribed {
			if have == s {
				f.subscribed = append(f.subscribed[:i], f.subscribed[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (f *fakeSubs) snapshot() (subscribed []subscription.Subscribable, unsubscribed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscription.Subscribable(nil), f.subscribed...), append([]string(nil), f.unsubscribed...)
}

type fakeMastership struct {
	mu         sync.Mutex
	kind       mastership.Kind
	count      int
	requestErr error
	acks       []string
}

func (f *fakeMastership) Kind() mastership.Kind { return f.kind }

func (f *fakeMastership) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeMastership) Request(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return f.requestErr
	}
	f.count++
	return nil
}

func (f *fakeMastership) Release(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count > 0 {
		f.count--
	}
	return nil
}

func (f *fakeMastership) HandleHostAck(ack string, success bool) error {
	if _, err := mastership.ParseAckKind(ack); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, fmt.Sprintf("%s:%t", ack, success))
	return nil
}

type fakeCleanup struct {
	mu      sync.Mutex
	started bool
	calls   int
}

func (f *fakeCleanup) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeCleanup) InitiateCleanup(_ context.Context, initiatedByApp bool) (shutdown.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.started {
		return "", shutdown.ErrAlreadyStarted
	}
	if !initiatedByApp {
		return "", errors.New("expected app-initiated cleanup")
	}
	f.started = true
	return shutdown.StatusOK, nil
}

type fakeHistory struct {
	mu       sync.Mutex
	resource string
	limit    int
}

func (f *fakeHistory) EventHistory(_ context.Context, resource string, limit int) ([]journal.EventEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resource, f.limit = resource, limit
	return []journal.EventEntry{{ID: 1, Resource: resource, Fields: map[string]string{"opmode": "AUTO"}}}, nil
}

func (f *fakeHistory) MastershipHistory(_ context.Context, limit int) ([]journal.MastershipEntry, error) {
	return []journal.MastershipEntry{{ID: 1, Kind: "edit", Transition: "acquired", Holders: 1}}, nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	subs    *fakeSubs
	edit    *fakeMastership
	motion  *fakeMastership
	cleanup *fakeCleanup
	history *fakeHistory
}

func newTestEnv(t *testing.T, withHistory bool) *testEnv {
	t.Helper()

	env := &testEnv{
		subs:    &fakeSubs{},
		edit:    &fakeMastership{kind: mastership.KindEdit},
		motion:  &fakeMastership{kind: mastership.KindMotion},
		cleanup: &fakeCleanup{},
	}
	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security:      config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15}},
		Logger:        logging.Discard(),
		Subscriptions: env.subs,
		Edit:          env.edit,
		Motion:        env.motion,
		Cleanup:       env.cleanup,
		Version:       "test",
	}
	if withHistory {
		env.history = &fakeHistory{}
		deps.History = env.history
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	env.handler = srv.buildRouter()
	return env
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateToken("tester", role, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.Discard()
	full := Deps{
		Security:      config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Logger:        log,
		Subscriptions: &fakeSubs{},
		Edit:          &fakeMastership{},
		Motion:        &fakeMastership{kind: mastership.KindMotion},
		Cleanup:       &fakeCleanup{},
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no logger", func(d *Deps) { d.Logger = nil }},
		{"no subscriptions", func(d *Deps) { d.Subscriptions = nil }},
		{"no motion", func(d *Deps) { d.Motion = nil }},
		{"no cleanup", func(d *Deps) { d.Cleanup = nil }},
		{"no secret", func(d *Deps) { d.Security.JWT.Secret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}

	if _, err := New(full); err != nil {
		t.Errorf("New() error = %v", err)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestRequestID_Echoed(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, false)
	otherSecret, err := auth.GenerateToken("tester", auth.RoleAdmin, strings.Repeat("x", 40), time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		tok    string
		want   int
	}{
		{"missing token", http.MethodGet, "/api/v1/status", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/status", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", http.MethodGet, "/api/v1/status", otherSecret, http.StatusUnauthorized},
		{"viewer reads status", http.MethodGet, "/api/v1/status", token(t, auth.RoleViewer), http.StatusOK},
		{"viewer cannot clean up", http.MethodPost, "/api/v1/cleanup", token(t, auth.RoleViewer), http.StatusForbidden},
		{"viewer cannot request", http.MethodPost, "/api/v1/mastership/edit/request", token(t, auth.RoleViewer), http.StatusForbidden},
		{"operator cannot ack", http.MethodPost, "/api/v1/mastership/edit/ack", token(t, auth.RoleOperator), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.tok, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAuth_NonBearerScheme(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Basic "+token(t, auth.RoleAdmin))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, false)
	env.motion.count = 2
	env.subs.subscribed = []subscription.Subscribable{&relay{resource: "/rw/panel/opmode"}}

	rec := env.do(t, http.MethodGet, "/api/v1/status", token(t, auth.RoleViewer), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	got := decode[StatusResponse](t, rec)
	if got.GroupID != "7" {
		t.Errorf("GroupID = %q, want 7", got.GroupID)
	}
	if got.Mastership["motion"] != 2 || got.Mastership["edit"] != 0 {
		t.Errorf("Mastership = %v", got.Mastership)
	}
	if got.Resources["/rw/panel/opmode"] != 1 {
		t.Errorf("Resources = %v", got.Resources)
	}
	if got.CleanupStarted {
		t.Error("CleanupStarted = true, want false")
	}
}

func TestMastership_RequestRelease(t *testing.T) {
	env := newTestEnv(t, false)
	tok := token(t, auth.RoleOperator)

	rec := env.do(t, http.MethodPost, "/api/v1/mastership/motion/request", tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("request status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["kind"] != "motion" || body["count"] != float64(1) {
		t.Errorf("request body = %v", body)
	}
	if env.edit.Count() != 0 {
		t.Errorf("edit count = %d, want 0", env.edit.Count())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/mastership/motion/release", tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("release status = %d", rec.Code)
	}
	if env.motion.Count() != 0 {
		t.Errorf("motion count = %d, want 0", env.motion.Count())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/mastership/rapid/request", tok, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestMastership_RequestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cleanup started", mastership.ErrCleanupStarted, http.StatusServiceUnavailable},
		{"host rejected", fmt.Errorf("%w: RequestMastership", mastership.ErrHostRejected), http.StatusConflict},
		{"host timeout", mastership.ErrHostAckTimeout, http.StatusGatewayTimeout},
		{"acquire failed", fmt.Errorf("%w: 403", mastership.ErrAcquireFailed), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			env.edit.requestErr = tt.err
			rec := env.do(t, http.MethodPost, "/api/v1/mastership/edit/request", token(t, auth.RoleOperator), "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := decode[Error](t, rec); got.Status != tt.want {
				t.Errorf("error body status = %d, want %d", got.Status, tt.want)
			}
		})
	}
}

func TestMastership_Ack(t *testing.T) {
	env := newTestEnv(t, false)
	tok := token(t, auth.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/api/v1/mastership/edit/ack", tok, `{"ack":"requested","success":true}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.edit.acks) != 1 || env.edit.acks[0] != "requested:true" {
		t.Errorf("acks = %v", env.edit.acks)
	}

	bad := []string{
		`{"ack":"requested"}`,
		`{"ack":"granted","success":true}`,
		`not json`,
	}
	for _, body := range bad {
		rec := env.do(t, http.MethodPost, "/api/v1/mastership/edit/ack", tok, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t, false)
	tok := token(t, auth.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/api/v1/cleanup", tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if body := decode[map[string]any](t, rec); body["status"] != "true" {
		t.Errorf("body = %v", body)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/cleanup", tok, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second cleanup status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if env.cleanup.calls != 2 {
		t.Errorf("InitiateCleanup calls = %d, want 2", env.cleanup.calls)
	}
}

func TestEventHistory(t *testing.T) {
	env := newTestEnv(t, true)
	tok := token(t, auth.RoleViewer)

	tests := []struct {
		path     string
		resource string
		limit    int
	}{
		{"/api/v1/events/rw/panel/opmode?limit=5", "/rw/panel/opmode", 5},
		{"/api/v1/events/rw/iosystem/signals/DO1%3Bstate", "/rw/iosystem/signals/DO1;state", 0},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodGet, tt.path, tok, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body %s", tt.path, rec.Code, rec.Body.String())
		}
		if env.history.resource != tt.resource || env.history.limit != tt.limit {
			t.Errorf("%s: queried (%q, %d), want (%q, %d)", tt.path, env.history.resource, env.history.limit, tt.resource, tt.limit)
		}
		body := decode[map[string]any](t, rec)
		if body["resource"] != tt.resource || body["count"] != float64(1) {
			t.Errorf("%s: body = %v", tt.path, body)
		}
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/events/rw/panel/opmode?limit=-1", tok, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/mastership/history", tok, ""); rec.Code != http.StatusOK {
		t.Errorf("mastership history status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestEventHistory_JournalDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/api/v1/events/rw/panel/opmode", token(t, auth.RoleViewer), "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t, false)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestServer_StartClose(t *testing.T) {
	env := newTestEnv(t, false)
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
