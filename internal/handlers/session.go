package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/stanstork/aggregator-router/internal/resilience"
)

type SessionService interface {
	SetLastUIUpdateTimestamp(ctx context.Context, connectionID string) error
	PausePolling(ctx context.Context, connectionID string) error
	ResumePolling(ctx context.Context, connectionID string) error
	Stats() resilience.Stats
}

type SessionHandler struct {
	svc    SessionService
	logger zerolog.Logger
}

func NewSessionHandler(svc SessionService, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger.With().Str("component", "session_handler").Logger()}
}

func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.SetLastUIUpdateTimestamp)
}

func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.PausePolling)
}

func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.ResumePolling)
}

func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *SessionHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	if err := fn(r.Context(), mux.Vars(r)["connectionId"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
