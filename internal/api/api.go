// Package api is the HTTP request/response layer: routing, JSON codecs, and
// the mapping from engine error kinds to status codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/blitztime/server/internal/session"
	"github.com/blitztime/server/internal/stageclock"
	"github.com/blitztime/server/internal/timer"
)

// Handler serves the registry over HTTP.
type Handler struct {
	registry *session.Registry
}

func NewHandler(registry *session.Registry) *Handler {
	return &Handler{registry: registry}
}

// Routes builds the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/timer", h.createTimer)
	r.Post("/timer/{id}/join/{side}", h.joinSide)
	r.Get("/timer/{id}", h.getTimer)
	r.Get("/stats", h.getStats)
	r.Get("/health", h.health)
	return r
}

type createTimerRequest struct {
	Stages    []stageclock.Stage `json:"stages"`
	AsManager bool               `json:"as_manager"`
}

type createTimerResponse struct {
	ID      string `json:"id"`
	Token   string `json:"token"`
	Managed bool   `json:"managed"`
}

func (h *Handler) createTimer(w http.ResponseWriter, r *http.Request) {
	var req createTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "request body must be valid JSON")
		return
	}
	snap, token, err := h.registry.CreateTimer(req.Stages, req.AsManager)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createTimerResponse{
		ID:      snap.ID,
		Token:   token,
		Managed: snap.Managed,
	})
}

type joinResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

func (h *Handler) joinSide(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "timer not found")
		return
	}
	pos, err := timer.ParseRole(chi.URLParam(r, "side"))
	if err != nil || !pos.IsSide() {
		writeError(w, http.StatusUnprocessableEntity, "side must be home or away")
		return
	}
	snap, token, err := h.registry.Join(id, pos)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{ID: snap.ID, Token: token})
}

func (h *Handler) getTimer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "timer not found")
		return
	}
	snap, err := h.registry.Snapshot(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Stats())
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("write health response")
	}
}

// writeEngineError maps engine error kinds onto status codes. Anything
// outside the known kinds is an internal failure and is not echoed to the
// client.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timer.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, timer.ErrInvalidInput):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, timer.ErrAlreadyOccupied):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, timer.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, timer.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}
