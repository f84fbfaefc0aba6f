// Package cleanup force-deletes aggregator connections that outlive a
// configured age, independent of whether anything is still tracking them.
package cleanup

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stanstork/aggregator-router/internal/aggregator"
	"github.com/stanstork/aggregator-router/internal/cache"
	"github.com/stanstork/aggregator-router/internal/metrics"
	"github.com/stanstork/aggregator-router/internal/models"
)

// RecordKeyPrefix namespaces cleanup records in the cache store.
const RecordKeyPrefix = "aggregator_connection_cleanup:"

var ErrCleanupDisabled = errors.New("connection cleanup is disabled")

func recordKey(id string) string {
	return RecordKeyPrefix + id
}

type AdapterSource interface {
	Get(name string) (aggregator.Adapter, error)
}

type Config struct {
	PollInterval time.Duration
	// MaxAge is how old a connection may get before it is deleted. Zero disables cleanup.
	MaxAge         time.Duration
	MaxRetries     int
	MaxConcurrency int
	CallTimeout    time.Duration
}

type Scheduler struct {
	store    cache.Store
	adapters AdapterSource
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(store cache.Store, adapters AdapterSource, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Scheduler{
		store:    store,
		adapters: adapters,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With().Str("component", "connection_cleanup").Logger(),
	}
}

func (s *Scheduler) Enabled() bool {
	return s.cfg.MaxAge > 0
}

// SetConnectionForCleanup stores a record for a freshly created connection,
// stamped with the current time. Records never expire on their own.
func (s *Scheduler) SetConnectionForCleanup(ctx context.Context, record models.CleanupRecord) error {
	if record.ID == "" {
		return errors.New("cleanup record id is required")
	}
	record.CreatedAt = s.now().UTC()
	record.RetryCount = 0
	err := s.store.Set(ctx, recordKey(record.ID), record, 0)
	return errors.Wrapf(err, "failed to store cleanup record %s", record.ID)
}

// UpdateDelayedConnectionID points an existing record at the id the aggregator
// assigned later in the flow. A missing record is logged and ignored.
func (s *Scheduler) UpdateDelayedConnectionID(ctx context.Context, id, aggregatorConnectionID string) error {
	record, err := s.GetRecord(ctx, id)
	if errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn().Str("connection_id", id).Msg("no cleanup record to update with delayed connection id")
		return nil
	}
	if err != nil {
		return err
	}
	record.DelayedConnectionID = aggregatorConnectionID
	err = s.store.Set(ctx, recordKey(id), record, 0)
	return errors.Wrapf(err, "failed to update cleanup record %s", id)
}

// Forget drops the record for a connection that was deleted through other means.
func (s *Scheduler) Forget(ctx context.Context, id string) error {
	return errors.Wrapf(s.store.Del(ctx, recordKey(id)), "failed to delete cleanup record %s", id)
}

func (s *Scheduler) GetRecord(ctx context.Context, id string) (*models.CleanupRecord, error) {
	var record models.CleanupRecord
	if err := s.store.Get(ctx, recordKey(id), &record); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "failed to load cleanup record %s", id)
	}
	return &record, nil
}

// CleanUpConnections runs one sweep: every record older than MaxAge has its
// connection deleted. Failures are counted on the record and retried on later
// sweeps until MaxRetries is reached, after which the record is dropped.
func (s *Scheduler) CleanUpConnections(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.CleanupSweepDuration.Observe(time.Since(start).Seconds())
	}()

	keys, err := s.store.Keys(ctx, RecordKeyPrefix)
	if err != nil {
		return errors.Wrap(err, "failed to scan cleanup records")
	}

	now := s.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, key := range keys {
		id := strings.TrimPrefix(key, RecordKeyPrefix)
		record, err := s.GetRecord(ctx, id)
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Str("connection_id", id).Msg("skipping unreadable cleanup record")
			continue
		}
		if now.Sub(record.CreatedAt) <= s.cfg.MaxAge {
			continue
		}
		g.Go(func() error {
			s.cleanUp(gctx, record)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) cleanUp(ctx context.Context, record *models.CleanupRecord) {
	logger := s.logger.With().
		Str("connection_id", record.ID).
		Str("target_id", record.TargetID()).
		Str("aggregator", record.AggregatorID).
		Logger()

	err := s.deleteConnection(ctx, record)
	if err == nil {
		metrics.CleanupResults.WithLabelValues(record.AggregatorID, "deleted").Inc()
		logger.Info().Msg("expired connection deleted")
		s.dropRecord(ctx, record.ID, logger)
		return
	}

	record.RetryCount++
	if record.RetryCount >= s.cfg.MaxRetries {
		metrics.CleanupResults.WithLabelValues(record.AggregatorID, "abandoned").Inc()
		logger.Error().Err(err).Int("attempts", record.RetryCount).Msg("giving up on connection cleanup")
		s.dropRecord(ctx, record.ID, logger)
		return
	}

	metrics.CleanupResults.WithLabelValues(record.AggregatorID, "retry").Inc()
	logger.Warn().Err(err).Int("attempts", record.RetryCount).Msg("connection cleanup failed, will retry")
	if err := s.store.Set(ctx, recordKey(record.ID), record, 0); err != nil {
		logger.Error().Err(err).Msg("failed to persist cleanup retry count")
	}
}

func (s *Scheduler) deleteConnection(ctx context.Context, record *models.CleanupRecord) error {
	adapter, err := s.adapters.Get(record.AggregatorID)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return errors.Wrapf(adapter.DeleteConnection(callCtx, record.TargetID(), record.UserID),
		"failed to delete connection %s", record.TargetID())
}

func (s *Scheduler) dropRecord(ctx context.Context, id string, logger zerolog.Logger) {
	if err := s.store.Del(ctx, recordKey(id)); err != nil {
		logger.Error().Err(err).Msg("failed to delete cleanup record")
	}
}

// InitCleanUpConnections starts the periodic sweep. It returns
// ErrCleanupDisabled when no positive MaxAge is configured.
func (s *Scheduler) InitCleanUpConnections(ctx context.Context) error {
	if !s.Enabled() {
		return ErrCleanupDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(runCtx, done)
	return nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.logger.Info().
		Dur("interval", s.cfg.PollInterval).
		Dur("max_age", s.cfg.MaxAge).
		Msg("connection cleanup started")
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("connection cleanup stopped")
			return
		case <-ticker.C:
			if err := s.CleanUpConnections(ctx); err != nil {
				s.logger.Error().Err(err).Msg("connection cleanup sweep failed")
			}
		}
	}
}

// Stop halts the sweep loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
