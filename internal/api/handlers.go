package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// cleanupTimeout bounds a cleanup triggered over the API. The request's own
// cancellation is ignored so a disconnecting caller cannot cut it short.
const cleanupTimeout = 2 * time.Minute

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	GroupID        string         `json:"group_id"`
	Resources      map[string]int `json:"resources"`
	Mastership     map[string]int `json:"mastership"`
	CleanupStarted bool           `json:"cleanup_started"`
	RelayClients   int            `json:"relay_clients"`
	Version        string         `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		GroupID:   s.subs.GroupID(),
		Resources: s.subs.Resources(),
		Mastership: map[string]int{
			s.edit.Kind().String():   s.edit.Count(),
			s.motion.Kind().String(): s.motion.Count(),
		},
		CleanupStarted: s.cleanup.Started(),
		RelayClients:   s.hub.ClientCount(),
		Version:        s.version,
	})
}

// handleCleanup runs the app-initiated cleanup sequence and reports the hook status.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), cleanupTimeout)
	defer cancel()

	subject := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	s.logger.Info("cleanup requested over API", "subject", subject)

	status, err := s.cleanup.InitiateCleanup(ctx, true)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": string(status),
	})
}

// handleMastershipRequest blocks until the lock is held (or the request fails)
// and returns the new holder count.
func (s *Server) handleMastershipRequest(w http.ResponseWriter, r *http.Request) {
	m, err := s.manager(chi.URLParam(r, "kind"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := m.Request(r.Context()); err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":  m.Kind().String(),
		"count": m.Count(),
	})
}

func (s *Server) handleMastershipRelease(w http.ResponseWriter, r *http.Request) {
	m, err := s.manager(chi.URLParam(r, "kind"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := m.Release(r.Context()); err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":  m.Kind().String(),
		"count": m.Count(),
	})
}

// ackRequest is the body of POST /mastership/{kind}/ack.
type ackRequest struct {
	Ack     string `json:"ack"`
	Success *bool  `json:"success"`
}

// handleMastershipAck delivers a host acknowledgement, for hosts that answer
// over HTTP instead of MQTT.
func (s *Server) handleMastershipAck(w http.ResponseWriter, r *http.Request) {
	m, err := s.manager(chi.URLParam(r, "kind"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Success == nil {
		writeBadRequest(w, "success is required")
		return
	}
	if err := m.HandleHostAck(req.Ack, *req.Success); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMastershipHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "journal disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.history.MastershipHistory(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading mastership history", "error", err)
		writeInternalError(w, "failed to read mastership history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleEventHistory returns journaled events for the resource in the path
// remainder, e.g. GET /events/rw/panel/opmode. Percent-encoded ';' is accepted.
func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "journal disabled")
		return
	}

	resource, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || strings.Trim(resource, "/") == "" {
		writeBadRequest(w, "resource path is required")
		return
	}
	resource = "/" + strings.TrimPrefix(resource, "/")

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.history.EventHistory(r.Context(), resource, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("reading event history", "resource", resource, "error", err)
		writeInternalError(w, "failed to read event history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource": resource,
		"entries":  entries,
		"count":    len(entries),
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeBadRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
