// Package resilience polls in-flight aggregator connections until they reach a
// terminal outcome, so a connection still completes (and is reported) when the
// UI that started it stops asking.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/aggregator-router/internal/aggregator"
	"github.com/stanstork/aggregator-router/internal/cache"
	"github.com/stanstork/aggregator-router/internal/metrics"
	"github.com/stanstork/aggregator-router/internal/models"
	"github.com/stanstork/aggregator-router/internal/performance"
)

var ErrSessionNotFound = errors.New("resilience session not found")

// AdapterSource looks up the adapter owning a session's connection.
type AdapterSource interface {
	Get(name string) (aggregator.Adapter, error)
}

type Config struct {
	PollInterval      time.Duration
	UIUpdateThreshold time.Duration
	SessionTTL        time.Duration
	MaxConcurrency    int
}

type StartSessionParams struct {
	UserID               string
	ConnectionID         string
	PerformanceSessionID string
	AggregatorID         string
	JobID                string
}

type Service struct {
	store    cache.Store
	adapters AdapterSource
	events   performance.Service
	manager  *Manager
	cfg      Config
	// writeMu serializes read-modify-write of session records.
	writeMu sync.Mutex
	now     func() time.Time
	logger  zerolog.Logger
}

func NewService(store cache.Store, adapters AdapterSource, events performance.Service, cfg Config, logger zerolog.Logger) *Service {
	if cfg.UIUpdateThreshold <= 0 {
		cfg.UIUpdateThreshold = 7 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 20 * time.Minute
	}
	s := &Service{
		store:    store,
		adapters: adapters,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With().Str("component", "resilience_service").Logger(),
	}
	s.manager = NewManager(store, s.PollIfNeeded, ManagerConfig{
		PollInterval:   cfg.PollInterval,
		MaxConcurrency: cfg.MaxConcurrency,
	}, logger)
	return s
}

func (s *Service) Init(ctx context.Context) error {
	return s.manager.Init(ctx)
}

func (s *Service) Shutdown() {
	s.manager.Shutdown()
}

func (s *Service) Stats() Stats {
	return s.manager.Stats()
}

// StartSession stores a new session for a connection attempt and registers it
// with the poller. A performance session id is generated when none is given.
func (s *Service) StartSession(ctx context.Context, p StartSessionParams) (*models.ResilienceSession, error) {
	if p.ConnectionID == "" {
		return nil, errors.New("connection id is required")
	}
	if p.PerformanceSessionID == "" {
		p.PerformanceSessionID = uuid.NewString()
	}
	session := &models.ResilienceSession{
		UserID:                p.UserID,
		ConnectionID:          p.ConnectionID,
		PerformanceSessionID:  p.PerformanceSessionID,
		AggregatorID:          p.AggregatorID,
		JobID:                 p.JobID,
		LastUIUpdateTimestamp: s.now().UTC(),
	}
	s.writeMu.Lock()
	err := s.save(ctx, session)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}
	s.manager.AddSession(p.ConnectionID)
	s.logger.Debug().
		Str("connection_id", p.ConnectionID).
		Str("aggregator", p.AggregatorID).
		Str("performance_session_id", p.PerformanceSessionID).
		Msg("resilience session started")
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, connectionID string) (*models.ResilienceSession, error) {
	var session models.ResilienceSession
	if err := s.store.Get(ctx, sessionKey(connectionID), &session); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrapf(err, "failed to load session %s", connectionID)
	}
	return &session, nil
}

// SetLastUIUpdateTimestamp records that the UI just refreshed this connection,
// which holds background polling off for the debounce window.
func (s *Service) SetLastUIUpdateTimestamp(ctx context.Context, connectionID string) error {
	return s.update(ctx, connectionID, func(session *models.ResilienceSession) {
		session.LastUIUpdateTimestamp = s.now().UTC()
	})
}

// PausePolling stops background polling while a challenge owns the UI.
func (s *Service) PausePolling(ctx context.Context, connectionID string) error {
	var perfID string
	err := s.update(ctx, connectionID, func(session *models.ResilienceSession) {
		session.Paused = true
		session.LastUIUpdateTimestamp = s.now().UTC()
		perfID = session.PerformanceSessionID
	})
	if err != nil {
		return err
	}
	s.events.RecordPauseEvent(ctx, perfID)
	return nil
}

func (s *Service) ResumePolling(ctx context.Context, connectionID string) error {
	var perfID string
	err := s.update(ctx, connectionID, func(session *models.ResilienceSession) {
		session.Paused = false
		session.LastUIUpdateTimestamp = s.now().UTC()
		perfID = session.PerformanceSessionID
	})
	if err != nil {
		return err
	}
	s.events.RecordResumeEvent(ctx, perfID)
	return nil
}

// EndSession drops the session from the store and the poller.
func (s *Service) EndSession(ctx context.Context, connectionID string) error {
	s.writeMu.Lock()
	err := s.store.Del(ctx, sessionKey(connectionID))
	s.writeMu.Unlock()
	s.manager.RemoveSession(connectionID)
	return errors.Wrapf(err, "failed to delete session %s", connectionID)
}

// PollIfNeeded asks the owning aggregator for the connection status unless the
// session is paused or the UI updated it recently, and ends the session on a
// terminal status. A session missing from the store has expired and is only
// dropped from the poller.
func (s *Service) PollIfNeeded(ctx context.Context, connectionID string) error {
	session, err := s.GetSession(ctx, connectionID)
	if errors.Is(err, ErrSessionNotFound) {
		metrics.ResiliencePolls.WithLabelValues("expired").Inc()
		s.manager.RemoveSession(connectionID)
		return nil
	}
	if err != nil {
		return err
	}

	if session.Paused || s.now().Sub(session.LastUIUpdateTimestamp) < s.cfg.UIUpdateThreshold {
		metrics.ResiliencePolls.WithLabelValues("skipped").Inc()
		return nil
	}

	adapter, err := s.adapters.Get(session.AggregatorID)
	if err != nil {
		return err
	}
	conn, err := adapter.GetConnectionStatus(ctx, connectionID, session.JobID, false, session.UserID)
	if err != nil {
		return errors.Wrapf(err, "failed to get status from %s", session.AggregatorID)
	}
	if conn == nil {
		return errors.Errorf("%s returned no connection for %s", session.AggregatorID, connectionID)
	}

	logger := s.logger.With().
		Str("connection_id", connectionID).
		Str("aggregator", session.AggregatorID).
		Str("status", string(conn.Status)).
		Logger()

	switch {
	case conn.Status == models.ConnectionStatusConnected && !conn.IsBeingAggregated && !conn.IsOAuth:
		metrics.ResiliencePolls.WithLabelValues("success").Inc()
		aggConnID := conn.ID
		if aggConnID == "" {
			aggConnID = connectionID
		}
		s.events.RecordSuccessEvent(ctx, session.PerformanceSessionID, aggConnID)
		logger.Info().Msg("connection completed, ending resilience session")
		return s.EndSession(ctx, connectionID)

	case conn.Status.IsFailure():
		metrics.ResiliencePolls.WithLabelValues("failure").Inc()
		logger.Info().Msg("connection failed, ending resilience session")
		return s.EndSession(ctx, connectionID)
	}

	metrics.ResiliencePolls.WithLabelValues("pending").Inc()
	if session.LastStatus == models.ConnectionStatusChallenged &&
		conn.Status != models.ConnectionStatusChallenged &&
		conn.IsBeingAggregated {
		logger.Debug().Msg("challenge cleared, aggregation resumed")
		s.events.RecordResumeEvent(ctx, session.PerformanceSessionID)
	}
	if conn.Status != session.LastStatus {
		// The adapter call can outlast a pause or heartbeat, so only the status
		// field is written back onto the current record.
		err := s.update(ctx, connectionID, func(current *models.ResilienceSession) {
			current.LastStatus = conn.Status
		})
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) update(ctx context.Context, connectionID string, mutate func(*models.ResilienceSession)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	session, err := s.GetSession(ctx, connectionID)
	if err != nil {
		return err
	}
	mutate(session)
	return s.save(ctx, session)
}

func (s *Service) save(ctx context.Context, session *models.ResilienceSession) error {
	err := s.store.Set(ctx, sessionKey(session.ConnectionID), session, s.cfg.SessionTTL)
	return errors.Wrapf(err, "failed to save session %s", session.ConnectionID)
}
