package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rws-client/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermStatusRead)).Get("/status", s.handleStatus)
			r.With(s.requirePermission(auth.PermCleanup)).Post("/cleanup", s.handleCleanup)

			r.Route("/mastership", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermStatusRead)).Get("/history", s.handleMastershipHistory)

				r.Route("/{kind}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermMastershipOperate)).Post("/request", s.handleMastershipRequest)
					r.With(s.requirePermission(auth.PermMastershipOperate)).Post("/release", s.handleMastershipRelease)
					r.With(s.requirePermission(auth.PermHostAck)).Post("/ack", s.handleMastershipAck)
				})
			})

			r.With(s.requirePermission(auth.PermEventsRead)).Get("/events/*", s.handleEventHistory)

			r.With(s.requirePermission(auth.PermEventsRead)).Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}
