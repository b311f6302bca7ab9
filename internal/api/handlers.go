package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LinePilot/internal/flow"
	"github.com/BTreeMap/LinePilot/internal/models"
)

const healthTimeout = 2 * time.Second

// SessionView is the body of GET /sessions/{id}.
type SessionView struct {
	Session  *models.Session `json:"session"`
	Progress models.Progress `json:"progress"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if _, err := s.store.MostRecentSession(ctx); err != nil {
		slog.Error("Server.healthHandler: store check failed", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse("session store unavailable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, successResponse(map[string]string{"status": "ok"}))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exists, err := s.registry.Exists(r.Context(), id)
	if err != nil {
		slog.Error("Server.getSessionHandler: lookup failed", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("failed to load session"))
		return
	}
	if !exists {
		writeJSONResponse(w, http.StatusNotFound, errorResponse("session not found"))
		return
	}
	sess, err := s.registry.View(r.Context(), id)
	if err != nil {
		slog.Error("Server.getSessionHandler: view failed", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("failed to load session"))
		return
	}
	view := SessionView{Session: sess, Progress: flow.ComputeProgress(&sess.Flow, &sess.Cart)}
	writeJSONResponse(w, http.StatusOK, successResponse(view))
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exists, err := s.registry.Exists(r.Context(), id)
	if err != nil {
		slog.Error("Server.deleteSessionHandler: lookup failed", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("failed to load session"))
		return
	}
	if !exists {
		writeJSONResponse(w, http.StatusNotFound, errorResponse("session not found"))
		return
	}
	if err := s.registry.Reset(r.Context(), id); err != nil {
		slog.Error("Server.deleteSessionHandler: reset failed", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("failed to delete session"))
		return
	}
	slog.Info("Server.deleteSessionHandler: session deleted", "sessionID", id)
	writeJSONResponse(w, http.StatusOK, successResponse(map[string]string{"deleted": id}))
}
