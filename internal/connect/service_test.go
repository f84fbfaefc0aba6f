package connect_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/aggregator-router/internal/adapters/sandbox"
	"github.com/stanstork/aggregator-router/internal/aggregator"
	"github.com/stanstork/aggregator-router/internal/cache"
	"github.com/stanstork/aggregator-router/internal/cleanup"
	"github.com/stanstork/aggregator-router/internal/connect"
	"github.com/stanstork/aggregator-router/internal/models"
	"github.com/stanstork/aggregator-router/internal/performance"
	"github.com/stanstork/aggregator-router/internal/preferences"
	"github.com/stanstork/aggregator-router/internal/repository"
	"github.com/stanstork/aggregator-router/internal/resilience"
	"github.com/stanstork/aggregator-router/internal/resolver"
)

type env struct {
	svc        *connect.Service
	cleanup    *cleanup.Scheduler
	resilience *resilience.Service
}

func newEnv(t *testing.T, cleanupAge time.Duration) *env {
	t.Helper()
	logger := zerolog.Nop()

	store, err := cache.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := aggregator.NewRegistry()
	registry.Register(sandbox.Name, sandbox.New(logger))

	institutions := repository.NewMemoryInstitutionRepository(append(sandbox.Institutions(), models.Institution{
		ID:   "unrouted",
		Name: "Nobody Serves Me",
	})...)
	prefs := preferences.Static{Prefs: &models.Preferences{
		SupportedAggregators: []string{sandbox.Name},
		DefaultAggregator:    sandbox.Name,
	}}
	res := resolver.New(institutions, prefs, registry, logger)

	sched := cleanup.NewScheduler(store, registry, cleanup.Config{MaxAge: cleanupAge}, logger)
	tracker := resilience.NewService(store, registry, performance.NewService(logger), resilience.Config{PollInterval: time.Hour}, logger)
	require.NoError(t, tracker.Init(context.Background()))
	t.Cleanup(tracker.Shutdown)

	return &env{
		svc:        connect.NewService(res, registry, sched, tracker, logger),
		cleanup:    sched,
		resilience: tracker,
	}
}

func TestCreateConnection_RegistersTracking(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Hour)

	result, err := e.svc.CreateConnection(ctx, connect.CreateConnectionRequest{
		UserID:           "user-1",
		InstitutionID:    "sandbox_bank",
		JobTypes:         []models.JobType{models.JobTypeAggregate},
		TrackPerformance: true,
	})
	require.NoError(t, err)

	assert.Equal(t, sandbox.Name, result.Aggregator)
	assert.NotEmpty(t, result.PerformanceSessionID)
	conn := result.Connection
	assert.Equal(t, models.ConnectionStatusCreated, conn.Status)

	record, err := e.cleanup.GetRecord(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, sandbox.Name, record.AggregatorID)
	assert.Equal(t, "user-1", record.UserID)

	session, err := e.resilience.GetSession(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, result.PerformanceSessionID, session.PerformanceSessionID)
	assert.Equal(t, conn.CurJobID, session.JobID)
	assert.Equal(t, []string{conn.ID}, e.resilience.Stats().SessionIDs)
}

func TestCreateConnection_WithoutTracking(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 0)

	result, err := e.svc.CreateConnection(ctx, connect.CreateConnectionRequest{UserID: "user-1", InstitutionID: "sandbox_bank"})
	require.NoError(t, err)
	assert.Empty(t, result.PerformanceSessionID)

	_, err = e.cleanup.GetRecord(ctx, result.Connection.ID)
	assert.ErrorIs(t, err, cache.ErrNotFound, "cleanup disabled")
	_, err = e.resilience.GetSession(ctx, result.Connection.ID)
	assert.ErrorIs(t, err, resilience.ErrSessionNotFound)
}

func TestCreateConnection_Errors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Hour)

	_, err := e.svc.CreateConnection(ctx, connect.CreateConnectionRequest{UserID: "user-1", InstitutionID: "unrouted"})
	assert.ErrorIs(t, err, connect.ErrNoRoute)

	_, err = e.svc.CreateConnection(ctx, connect.CreateConnectionRequest{UserID: "user-1", InstitutionID: "missing"})
	assert.ErrorIs(t, err, repository.ErrInstitutionNotFound)

	_, err = e.svc.CreateConnection(ctx, connect.CreateConnectionRequest{
		UserID:        "user-1",
		InstitutionID: "sandbox_bank",
		JobTypes:      []models.JobType{"teleport"},
	})
	assert.Error(t, err)

	_, err = e.svc.CreateConnection(ctx, connect.CreateConnectionRequest{
		UserID:        "user-1",
		InstitutionID: "sandbox_bank",
		Aggregator:    "mx",
	})
	assert.ErrorIs(t, err, aggregator.ErrUnknownAggregator)
}

func TestChallengeFlowPausesAndResumes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Hour)

	result, err := e.svc.CreateConnection(ctx, connect.CreateConnectionRequest{
		UserID:           "user-1",
		InstitutionID:    "sandbox_bank",
		Credentials:      []models.Credential{{ID: "password", Value: sandbox.CredentialChallenge}},
		TrackPerformance: true,
	})
	require.NoError(t, err)
	conn := result.Connection

	status, err := e.svc.GetConnectionStatus(ctx, sandbox.Name, conn.ID, conn.CurJobID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionStatusPending, status.Status)

	status, err = e.svc.GetConnectionStatus(ctx, sandbox.Name, conn.ID, conn.CurJobID, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.ConnectionStatusChallenged, status.Status)

	session, err := e.resilience.GetSession(ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, session.Paused)

	answer := status.Challenges[0]
	answer.Response = "1234"
	ok, err := e.svc.AnswerChallenge(ctx, sandbox.Name, models.ChallengeAnswerRequest{
		ConnectionID: conn.ID,
		UserID:       "user-1",
		Challenges:   []models.Challenge{answer},
	}, conn.CurJobID)
	require.NoError(t, err)
	assert.True(t, ok)

	session, err = e.resilience.GetSession(ctx, conn.ID)
	require.NoError(t, err)
	assert.False(t, session.Paused)
}

func TestDeleteConnection_StopsTracking(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Hour)

	result, err := e.svc.CreateConnection(ctx, connect.CreateConnectionRequest{
		UserID:           "user-1",
		InstitutionID:    "sandbox_bank",
		TrackPerformance: true,
	})
	require.NoError(t, err)
	id := result.Connection.ID

	require.NoError(t, e.svc.DeleteConnection(ctx, sandbox.Name, id, "user-1"))

	_, err = e.cleanup.GetRecord(ctx, id)
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = e.resilience.GetSession(ctx, id)
	assert.ErrorIs(t, err, resilience.ErrSessionNotFound)
	assert.Zero(t, e.resilience.Stats().ActiveSessions)

	assert.ErrorIs(t, e.svc.DeleteConnection(ctx, sandbox.Name, id, "user-1"), sandbox.ErrConnectionNotFound)
}

func TestCompleteOAuth_SetsDelayedID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Hour)

	result, err := e.svc.CreateConnection(ctx, connect.CreateConnectionRequest{
		UserID:        "user-1",
		InstitutionID: "sandbox_bank",
		IsOAuth:       true,
	})
	require.NoError(t, err)

	require.NoError(t, e.svc.CompleteOAuth(ctx, result.Connection.ID, "agg-assigned-id"))
	record, err := e.cleanup.GetRecord(ctx, result.Connection.ID)
	require.NoError(t, err)
	assert.Equal(t, "agg-assigned-id", record.TargetID())

	assert.NoError(t, e.svc.CompleteOAuth(ctx, "unknown", "x"))
}
