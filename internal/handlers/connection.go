package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/stanstork/aggregator-router/internal/authz"
	"github.com/stanstork/aggregator-router/internal/connect"
	"github.com/stanstork/aggregator-router/internal/models"
	"github.com/stanstork/aggregator-router/internal/resolver"
)

type ConnectService interface {
	Resolve(ctx context.Context, institutionID string, jobTypes []models.JobType, override string) (resolver.Resolution, error)
	CreateConnection(ctx context.Context, req connect.CreateConnectionRequest) (*connect.CreateConnectionResult, error)
	GetConnectionStatus(ctx context.Context, aggregatorName, connectionID, jobID, userID string) (*models.Connection, error)
	AnswerChallenge(ctx context.Context, aggregatorName string, req models.ChallengeAnswerRequest, jobID string) (bool, error)
	DeleteConnection(ctx context.Context, aggregatorName, connectionID, userID string) error
	CompleteOAuth(ctx context.Context, requestID, aggregatorConnectionID string) error
}

type ConnectionHandler struct {
	svc    ConnectService
	logger zerolog.Logger
}

func NewConnectionHandler(svc ConnectService, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{svc: svc, logger: logger.With().Str("component", "connection_handler").Logger()}
}

type resolveRequest struct {
	InstitutionID string           `json:"institution_id" validate:"required"`
	JobTypes      []models.JobType `json:"job_types"`
	Aggregator    string           `json:"aggregator,omitempty"`
}

type challengeRequest struct {
	JobID      string             `json:"job_id"`
	Challenges []models.Challenge `json:"challenges" validate:"required,min=1"`
}

type oauthCompleteRequest struct {
	AggregatorConnectionID string `json:"aggregator_connection_id" validate:"required"`
}

func (h *ConnectionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := h.svc.Resolve(r.Context(), req.InstitutionID, req.JobTypes, req.Aggregator)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return
	}
	var req connect.CreateConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.UserID = uid

	result, err := h.svc.CreateConnection(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *ConnectionHandler) Status(w http.ResponseWriter, r *http.Request) {
	uid, agg, ok := h.callerAndAggregator(w, r)
	if !ok {
		return
	}
	conn, err := h.svc.GetConnectionStatus(r.Context(), agg, mux.Vars(r)["id"], r.URL.Query().Get("job_id"), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *ConnectionHandler) AnswerChallenge(w http.ResponseWriter, r *http.Request) {
	uid, agg, ok := h.callerAndAggregator(w, r)
	if !ok {
		return
	}
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	accepted, err := h.svc.AnswerChallenge(r.Context(), agg, models.ChallengeAnswerRequest{
		ConnectionID: mux.Vars(r)["id"],
		UserID:       uid,
		Challenges:   req.Challenges,
	}, req.JobID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, agg, ok := h.callerAndAggregator(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteConnection(r.Context(), agg, mux.Vars(r)["id"], uid); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConnectionHandler) CompleteOAuth(w http.ResponseWriter, r *http.Request) {
	var req oauthCompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.CompleteOAuth(r.Context(), mux.Vars(r)["id"], req.AggregatorConnectionID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConnectionHandler) callerAndAggregator(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	uid, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return "", "", false
	}
	agg := r.URL.Query().Get("aggregator")
	if agg == "" {
		http.Error(w, "aggregator query parameter is required", http.StatusBadRequest)
		return "", "", false
	}
	return uid, agg, true
}
