// Package connect runs the connection flow end to end: route the request to an
// aggregator, create the connection there, and register it for cleanup and
// resilience tracking.
package connect

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/aggregator-router/internal/aggregator"
	"github.com/stanstork/aggregator-router/internal/models"
	"github.com/stanstork/aggregator-router/internal/resilience"
	"github.com/stanstork/aggregator-router/internal/resolver"
)

// ErrNoRoute means no aggregator can serve the institution for the requested job types.
var ErrNoRoute = errors.New("no aggregator available for institution")

type Resolver interface {
	Resolve(ctx context.Context, institutionID string, jobTypes []models.JobType, override string) (resolver.Resolution, error)
}

type Adapters interface {
	Get(name string) (aggregator.Adapter, error)
}

type Cleanup interface {
	Enabled() bool
	SetConnectionForCleanup(ctx context.Context, record models.CleanupRecord) error
	UpdateDelayedConnectionID(ctx context.Context, id, aggregatorConnectionID string) error
	Forget(ctx context.Context, id string) error
}

type Resilience interface {
	StartSession(ctx context.Context, p resilience.StartSessionParams) (*models.ResilienceSession, error)
	GetSession(ctx context.Context, connectionID string) (*models.ResilienceSession, error)
	SetLastUIUpdateTimestamp(ctx context.Context, connectionID string) error
	PausePolling(ctx context.Context, connectionID string) error
	ResumePolling(ctx context.Context, connectionID string) error
	EndSession(ctx context.Context, connectionID string) error
}

type CreateConnectionRequest struct {
	UserID            string              `json:"user_id"`
	InstitutionID     string              `json:"institution_id" validate:"required"`
	JobTypes          []models.JobType    `json:"job_types"`
	Aggregator        string              `json:"aggregator,omitempty"`
	Credentials       []models.Credential `json:"credentials"`
	IsOAuth           bool                `json:"is_oauth"`
	SingleAccountOnly bool                `json:"single_account_select"`
	// TrackPerformance starts a resilience session for the new connection.
	TrackPerformance     bool   `json:"track_performance"`
	PerformanceSessionID string `json:"performance_session_id,omitempty"`
}

type CreateConnectionResult struct {
	Connection           *models.Connection `json:"connection"`
	Aggregator           string             `json:"aggregator"`
	PerformanceSessionID string             `json:"performance_session_id,omitempty"`
}

type Service struct {
	resolver   Resolver
	adapters   Adapters
	cleanup    Cleanup
	resilience Resilience
	logger     zerolog.Logger
}

func NewService(r Resolver, adapters Adapters, cleanup Cleanup, res Resilience, logger zerolog.Logger) *Service {
	return &Service{
		resolver:   r,
		adapters:   adapters,
		cleanup:    cleanup,
		resilience: res,
		logger:     logger.With().Str("component", "connect").Logger(),
	}
}

func (s *Service) Resolve(ctx context.Context, institutionID string, jobTypes []models.JobType, override string) (resolver.Resolution, error) {
	return s.resolver.Resolve(ctx, institutionID, jobTypes, override)
}

// CreateConnection routes the request, creates the connection on the chosen
// aggregator and registers it for cleanup and, when asked, resilience tracking.
// Failing to register is logged; the connection itself already exists.
func (s *Service) CreateConnection(ctx context.Context, req CreateConnectionRequest) (*CreateConnectionResult, error) {
	for _, jt := range req.JobTypes {
		if !jt.IsValid() {
			return nil, fmt.Errorf("invalid job type %q", jt)
		}
	}

	res, err := s.resolver.Resolve(ctx, req.InstitutionID, req.JobTypes, req.Aggregator)
	if err != nil {
		return nil, err
	}
	if !res.Found() {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, req.InstitutionID)
	}

	adapter, err := s.adapters.Get(res.Aggregator)
	if err != nil {
		return nil, err
	}
	userID, err := adapter.ResolveUserID(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s user", res.Aggregator)
	}

	institutionID := res.ExternalID
	if institutionID == "" {
		institutionID = req.InstitutionID
	}
	conn, err := adapter.CreateConnection(ctx, models.ConnectionRequest{
		InstitutionID:     institutionID,
		Credentials:       req.Credentials,
		JobTypes:          req.JobTypes,
		IsOAuth:           req.IsOAuth,
		SingleAccountOnly: req.SingleAccountOnly,
	}, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create connection on %s", res.Aggregator)
	}

	logger := s.logger.With().
		Str("connection_id", conn.ID).
		Str("aggregator", res.Aggregator).
		Str("institution_id", req.InstitutionID).
		Logger()

	if s.cleanup != nil && s.cleanup.Enabled() {
		err := s.cleanup.SetConnectionForCleanup(ctx, models.CleanupRecord{
			ID:           conn.ID,
			AggregatorID: res.Aggregator,
			UserID:       userID,
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to register connection for cleanup")
		}
	}

	result := &CreateConnectionResult{Connection: conn, Aggregator: res.Aggregator}
	if req.TrackPerformance {
		session, err := s.resilience.StartSession(ctx, resilience.StartSessionParams{
			UserID:               userID,
			ConnectionID:         conn.ID,
			PerformanceSessionID: req.PerformanceSessionID,
			AggregatorID:         res.Aggregator,
			JobID:                conn.CurJobID,
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to start resilience session")
		} else {
			result.PerformanceSessionID = session.PerformanceSessionID
		}
	}

	logger.Info().Msg("connection created")
	return result, nil
}

// GetConnectionStatus fetches the status for the UI. A tracked session counts
// this as a UI update, and is paused while a challenge is waiting on the user.
func (s *Service) GetConnectionStatus(ctx context.Context, aggregatorName, connectionID, jobID, userID string) (*models.Connection, error) {
	adapter, userID, err := s.adapterFor(ctx, aggregatorName, userID)
	if err != nil {
		return nil, err
	}
	conn, err := adapter.GetConnectionStatus(ctx, connectionID, jobID, false, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get status from %s", aggregatorName)
	}

	session, err := s.resilience.GetSession(ctx, connectionID)
	switch {
	case errors.Is(err, resilience.ErrSessionNotFound):
	case err != nil:
		s.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("failed to load resilience session")
	case conn.Status == models.ConnectionStatusChallenged && !session.Paused:
		s.warnOnErr(s.resilience.PausePolling(ctx, connectionID), connectionID, "failed to pause resilience polling")
	default:
		s.warnOnErr(s.resilience.SetLastUIUpdateTimestamp(ctx, connectionID), connectionID, "failed to record ui update")
	}
	return conn, nil
}

// AnswerChallenge forwards the answers and resumes a paused resilience session
// once the aggregator accepts them.
func (s *Service) AnswerChallenge(ctx context.Context, aggregatorName string, req models.ChallengeAnswerRequest, jobID string) (bool, error) {
	adapter, userID, err := s.adapterFor(ctx, aggregatorName, req.UserID)
	if err != nil {
		return false, err
	}
	req.UserID = userID
	ok, err := adapter.AnswerChallenge(ctx, req, jobID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to answer challenge on %s", aggregatorName)
	}
	if !ok {
		return false, nil
	}

	session, err := s.resilience.GetSession(ctx, req.ConnectionID)
	if err == nil && session.Paused {
		s.warnOnErr(s.resilience.ResumePolling(ctx, req.ConnectionID), req.ConnectionID, "failed to resume resilience polling")
	}
	return true, nil
}

// DeleteConnection deletes the connection on the aggregator and stops tracking it.
func (s *Service) DeleteConnection(ctx context.Context, aggregatorName, connectionID, userID string) error {
	adapter, userID, err := s.adapterFor(ctx, aggregatorName, userID)
	if err != nil {
		return err
	}
	if err := adapter.DeleteConnection(ctx, connectionID, userID); err != nil {
		return errors.Wrapf(err, "failed to delete connection on %s", aggregatorName)
	}
	s.warnOnErr(s.resilience.EndSession(ctx, connectionID), connectionID, "failed to end resilience session")
	if s.cleanup != nil {
		s.warnOnErr(s.cleanup.Forget(ctx, connectionID), connectionID, "failed to drop cleanup record")
	}
	return nil
}

// CompleteOAuth records the aggregator-assigned id for a connection created
// through OAuth, so cleanup deletes the right one.
func (s *Service) CompleteOAuth(ctx context.Context, requestID, aggregatorConnectionID string) error {
	if s.cleanup == nil || !s.cleanup.Enabled() {
		return nil
	}
	return s.cleanup.UpdateDelayedConnectionID(ctx, requestID, aggregatorConnectionID)
}

func (s *Service) adapterFor(ctx context.Context, aggregatorName, userID string) (aggregator.Adapter, string, error) {
	adapter, err := s.adapters.Get(aggregatorName)
	if err != nil {
		return nil, "", err
	}
	resolved, err := adapter.ResolveUserID(ctx, userID)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to resolve %s user", aggregatorName)
	}
	return adapter, resolved, nil
}

func (s *Service) warnOnErr(err error, connectionID, msg string) {
	if err != nil && !errors.Is(err, resilience.ErrSessionNotFound) {
		s.logger.Warn().Err(err).Str("connection_id", connectionID).Msg(msg)
	}
}
