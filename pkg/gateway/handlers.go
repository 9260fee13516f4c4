package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/harun/mira/internal/tracing"
	"github.com/harun/mira/pkg/backend"
	"github.com/harun/mira/pkg/memory"
	"github.com/harun/mira/pkg/orchestrator"
	"github.com/harun/mira/pkg/session"
	"github.com/harun/mira/pkg/stream"
)

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSessionError maps engine errors onto HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrSessionExpired):
		writeError(w, http.StatusGone, "session_expired", err.Error())
	case errors.Is(err, session.ErrSessionBusy):
		writeError(w, http.StatusConflict, "session_busy", err.Error())
	case errors.Is(err, session.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "quota_exceeded", err.Error())
	case errors.Is(err, session.ErrBackendSaturated):
		writeError(w, http.StatusServiceUnavailable, "backend_saturated", err.Error())
	case errors.Is(err, backend.ErrUnsupportedModel):
		writeError(w, http.StatusBadRequest, "unsupported_model", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ownerHeader))
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing_owner", "X-Mira-Owner header is required")
		return
	}

	var req OpenSessionRequest
	if r.Body != nil {
		// An empty body is a valid untitled session.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ctx := tracing.WithTraceID(r.Context(), tracing.NewTraceID())
	sess, err := s.sessions.Open(ctx, owner, req.Title)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	s.broadcaster.BroadcastTyped(EventMessage{
		Event:     "session.opened",
		SessionID: sess.ID,
		Data:      map[string]interface{}{"owner": owner},
	})

	writeJSON(w, http.StatusCreated, SessionInfo{
		ID:        sess.ID,
		OwnerID:   sess.OwnerID,
		Title:     sess.Title,
		Model:     sess.Model(),
		CreatedAt: sess.CreatedAt,
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := s.sessions.Close(r.Context(), sessionID); err != nil {
		writeSessionError(w, err)
		return
	}

	s.broadcaster.BroadcastTyped(EventMessage{
		Event:     "session.closed",
		SessionID: sessionID,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req SetModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model is required")
		return
	}

	if err := s.sessions.SetModel(sessionID, req.Model); err != nil {
		writeSessionError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitTurn admits a turn and streams its events as SSE frames. The
// response always ends with the done sentinel frame; closing the request
// aborts the turn.
func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing_owner", "X-Mira-Owner header is required")
		return
	}

	var req TurnSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "sessionId is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	sess, err := s.sessions.Get(req.SessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if sess.OwnerID != owner {
		// Sessions are private to their owner; don't leak existence.
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}

	limiter := s.limiters.get(owner)
	if allowed, reason := limiter.Allow(); !allowed {
		writeError(w, http.StatusTooManyRequests, "rate_limited", reason)
		return
	}
	limiter.Begin()
	defer limiter.End()

	attachments := make([]orchestrator.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, orchestrator.Attachment{Kind: a.Kind, URI: a.URI})
	}

	ctx := tracing.WithTraceID(r.Context(), tracing.NewTraceID())
	handle, err := s.sessions.Submit(ctx, session.SubmitRequest{
		SessionID: req.SessionID,
		Model:     req.Model,
		Input: orchestrator.Input{
			Text:        req.Text,
			Attachments: attachments,
		},
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}

	s.broadcaster.BroadcastTyped(EventMessage{
		Event:     "turn.started",
		SessionID: req.SessionID,
		TurnID:    handle.TurnID,
	})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Mira-Turn-Id", handle.TurnID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var lastKind stream.EventKind
	for ev := range handle.Events {
		frame, err := stream.Encode(ev)
		if err != nil {
			s.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("Failed to encode event")
			continue
		}
		if _, err := w.Write(frame); err != nil {
			// Client went away; the request context cancels the turn, keep
			// draining so the manager can release it.
			continue
		}
		flusher.Flush()
		lastKind = ev.Kind
	}
	if lastKind != stream.KindDone {
		// The channel closed without a Done frame on the wire. The stream
		// contract promises one last frame, so synthesize it.
		if frame, err := stream.Encode(stream.Done()); err == nil {
			if _, err := w.Write(frame); err == nil {
				flusher.Flush()
				lastKind = stream.KindDone
			}
		}
	}

	s.broadcaster.BroadcastTyped(EventMessage{
		Event:     "turn.finished",
		SessionID: req.SessionID,
		TurnID:    handle.TurnID,
		Data:      map[string]interface{}{"lastEvent": string(lastKind)},
	})
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	if s.memoryStore == nil {
		writeError(w, http.StatusNotFound, "memory_disabled", "memory store is not configured")
		return
	}

	owner := ownerID(r)
	var req RememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	scope := memory.Scope(req.Scope)
	if scope == "" {
		scope = memory.ScopeShared
	}

	path, err := s.memoryStore.Remember(scope, owner, req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, RememberResponse{Path: path})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if s.memoryStore == nil {
		writeError(w, http.StatusNotFound, "memory_disabled", "memory store is not configured")
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "path query parameter is required")
		return
	}

	if err := s.memoryStore.Forget(path); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
