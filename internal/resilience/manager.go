package resilience

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stanstork/aggregator-router/internal/cache"
	"github.com/stanstork/aggregator-router/internal/metrics"
)

// SessionKeyPrefix namespaces resilience sessions in the cache store.
// The remainder of the key is the connection id.
const SessionKeyPrefix = "performance_resilience_session:"

func sessionKey(connectionID string) string {
	return SessionKeyPrefix + connectionID
}

// PollFunc polls one session. A returned error evicts the session from the manager.
type PollFunc func(ctx context.Context, sessionID string) error

type ManagerConfig struct {
	PollInterval   time.Duration
	PollTimeout    time.Duration
	MaxConcurrency int
}

type Stats struct {
	ActiveSessions   int      `json:"active_sessions"`
	ProcessorRunning bool     `json:"processor_running"`
	SessionIDs       []string `json:"session_ids"`
}

// Manager keeps the set of live session ids and runs the shared poller while,
// and only while, that set is non-empty. Every mutation re-checks the
// invariant under mu, so the poller is started and stopped exactly once per
// empty/non-empty transition.
type Manager struct {
	store  cache.Store
	poll   PollFunc
	cfg    ManagerConfig
	logger zerolog.Logger

	mu          sync.Mutex
	initialized bool
	sessions    map[string]struct{}
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewManager(store cache.Store, poll PollFunc, cfg ManagerConfig, logger zerolog.Logger) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 16
	}
	return &Manager{
		store:    store,
		poll:     poll,
		cfg:      cfg,
		logger:   logger.With().Str("component", "resilience_manager").Logger(),
		sessions: make(map[string]struct{}),
	}
}

// Init seeds the session set from the cache store so sessions written before a
// restart keep being polled, and starts the poller if any exist.
func (m *Manager) Init(ctx context.Context) error {
	keys, err := m.store.Keys(ctx, SessionKeyPrefix)
	if err != nil {
		return errors.Wrap(err, "failed to scan resilience sessions")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	for _, key := range keys {
		m.sessions[strings.TrimPrefix(key, SessionKeyPrefix)] = struct{}{}
	}
	m.reconcileLocked()

	m.logger.Info().Int("sessions", len(m.sessions)).Msg("resilience manager initialized")
	return nil
}

// AddSession registers a session id. It is a no-op before Init.
func (m *Manager) AddSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		m.logger.Debug().Str("connection_id", id).Msg("manager not initialized, ignoring session")
		return
	}
	m.sessions[id] = struct{}{}
	m.reconcileLocked()
}

func (m *Manager) RemoveSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	m.reconcileLocked()
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Stats{
		ActiveSessions:   len(ids),
		ProcessorRunning: m.cancel != nil,
		SessionIDs:       ids,
	}
}

// Shutdown stops the poller, waits for an in-flight tick to return and clears
// the set. It is safe to call when nothing is running.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	done := m.done
	m.stopLocked()
	m.sessions = make(map[string]struct{})
	m.initialized = false
	m.updateGaugesLocked()
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (m *Manager) reconcileLocked() {
	switch {
	case len(m.sessions) > 0 && m.cancel == nil:
		m.startLocked()
	case len(m.sessions) == 0 && m.cancel != nil:
		m.stopLocked()
	}
	m.updateGaugesLocked()
}

func (m *Manager) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go m.run(ctx, done)
	m.logger.Debug().Dur("interval", m.cfg.PollInterval).Msg("resilience poller started")
}

func (m *Manager) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.cancel = nil
	m.done = nil
	m.logger.Debug().Msg("resilience poller stopped")
}

func (m *Manager) updateGaugesLocked() {
	metrics.ResilienceActiveSessions.Set(float64(len(m.sessions)))
	metrics.ResiliencePollerRunning.Set(metrics.BoolGauge(m.cancel != nil))
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.tick(ctx)
	}
}

// tick polls every registered session concurrently. One session failing only
// evicts that session.
func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.MaxConcurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			pollCtx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
			defer cancel()
			if err := m.poll(pollCtx, id); err != nil {
				m.evict(ctx, id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	// A cancelled ctx means this loop was already stopped, possibly replaced.
	if ctx.Err() == nil && len(m.sessions) == 0 {
		m.stopLocked()
		m.updateGaugesLocked()
	}
}

// evict drops a session after a failed poll. A poll from a stopped loop is
// ignored: the set may already belong to a newer poller.
func (m *Manager) evict(ctx context.Context, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	metrics.ResiliencePolls.WithLabelValues("error").Inc()
	m.logger.Error().Err(err).Str("connection_id", id).Msg("resilience poll failed, evicting session")
	delete(m.sessions, id)
	m.reconcileLocked()
}
