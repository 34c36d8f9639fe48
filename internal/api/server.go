package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/rws-client/internal/infrastructure/config"
	"github.com/nerrad567/rws-client/internal/infrastructure/logging"
	"github.com/nerrad567/rws-client/internal/journal"
	"github.com/nerrad567/rws-client/internal/mastership"
	"github.com/nerrad567/rws-client/internal/shutdown"
	"github.com/nerrad567/rws-client/internal/subscription"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Subscriptions is the part of the subscription manager used by the API.
// *subscription.Manager satisfies it.
type Subscriptions interface {
	GroupID() string
	Resources() map[string]int
	Subscribe(ctx context.Context, subs []subscription.Subscribable, initialFire func(ctx context.Context) error) error
	Unsubscribe(ctx context.Context, subs []subscription.Subscribable) error
}

// Mastership is the part of a mastership manager used by the API.
// *mastership.Manager satisfies it.
type Mastership interface {
	Kind() mastership.Kind
	Count() int
	Request(ctx context.Context) error
	Release(ctx context.Context) error
	HandleHostAck(ack string, success bool) error
}

// Cleanup triggers and reports process cleanup. *shutdown.Coordinator satisfies it.
type Cleanup interface {
	Started() bool
	InitiateCleanup(ctx context.Context, initiatedByApp bool) (shutdown.Status, error)
}

// History reads the event journal. *journal.Repository satisfies it.
type History interface {
	EventHistory(ctx context.Context, resource string, limit int) ([]journal.EventEntry, error)
	MastershipHistory(ctx context.Context, limit int) ([]journal.MastershipEntry, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	Security      config.SecurityConfig
	Logger        *logging.Logger
	Subscriptions Subscriptions
	Edit          Mastership
	Motion        Mastership
	Cleanup       Cleanup
	History       History // optional: journal routes return 503 without it
	Version       string
}

// Server is the local control API server.
//
// It manages the HTTP listener, routes, middleware, and the event relay hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	subs      Subscriptions
	edit      Mastership
	motion    Mastership
	cleanup   Cleanup
	history   History
	version   string
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels the hub on Close()
	startedAt time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, subscriptions, both mastership
//     managers, cleanup coordinator, JWT secret)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Subscriptions == nil {
		return nil, fmt.Errorf("subscription manager is required")
	}
	if deps.Edit == nil || deps.Motion == nil {
		return nil, fmt.Errorf("edit and motion mastership managers are required")
	}
	if deps.Cleanup == nil {
		return nil, fmt.Errorf("cleanup coordinator is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		subs:      deps.Subscriptions,
		edit:      deps.Edit,
		motion:    deps.Motion,
		cleanup:   deps.Cleanup,
		history:   deps.History,
		version:   deps.Version,
		startedAt: time.Now(),
	}
	s.hub = NewHub(deps.WS, deps.Subscriptions, deps.Logger)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the relay hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context of the relay hub
//
// Returns:
//   - error: Always nil; listener errors are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// Relay clients are disconnected, which drops their subscriptions.
// In-flight requests get up to 10 seconds to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Hub returns the event relay hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// manager returns the mastership manager for a {kind} path segment.
func (s *Server) manager(kind string) (Mastership, error) {
	k, err := mastership.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	if k == mastership.KindMotion {
		return s.motion, nil
	}
	return s.edit, nil
}
