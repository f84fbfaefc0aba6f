package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/aggregator-router/internal/cache"
	"github.com/stanstork/aggregator-router/internal/models"
)

type countingRepo struct {
	*MemoryInstitutionRepository
	gets int
	err  error
}

func (r *countingRepo) GetInstitution(ctx context.Context, id string) (*models.Institution, error) {
	r.gets++
	if r.err != nil {
		return nil, r.err
	}
	return r.MemoryInstitutionRepository.GetInstitution(ctx, id)
}

func strPtr(s string) *string { return &s }

func newCached(t *testing.T, seed ...models.Institution) (*CachedInstitutionRepository, *countingRepo, *cache.BadgerStore) {
	t.Helper()
	store, err := cache.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	repo := &countingRepo{MemoryInstitutionRepository: NewMemoryInstitutionRepository(seed...)}
	return NewCachedInstitutionRepository(repo, store, time.Hour, zerolog.Nop()), repo, store
}

var chase = models.Institution{
	ID:   "chase",
	Name: "Chase",
	Capabilities: map[string]models.AggregatorCapability{
		"mx": {ExternalID: strPtr("mx-chase"), SupportsAggregation: true},
	},
}

func TestCachedInstitutionRepository_ReadThrough(t *testing.T) {
	ctx := context.Background()
	cached, repo, store := newCached(t, chase)

	first, err := cached.GetInstitution(ctx, "chase")
	require.NoError(t, err)
	second, err := cached.GetInstitution(ctx, "chase")
	require.NoError(t, err)

	assert.Equal(t, 1, repo.gets)
	assert.Equal(t, first, second)
	require.NotNil(t, second.Capabilities["mx"].ExternalID)
	assert.Equal(t, "mx-chase", *second.Capabilities["mx"].ExternalID)

	keys, err := store.Keys(ctx, institutionKeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"institution:chase"}, keys)
}

func TestCachedInstitutionRepository_NotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	cached, repo, _ := newCached(t)

	_, err := cached.GetInstitution(ctx, "nope")
	assert.ErrorIs(t, err, ErrInstitutionNotFound)
	_, err = cached.GetInstitution(ctx, "nope")
	assert.ErrorIs(t, err, ErrInstitutionNotFound)
	assert.Equal(t, 2, repo.gets)
}

func TestCachedInstitutionRepository_UpsertInvalidates(t *testing.T) {
	ctx := context.Background()
	cached, repo, _ := newCached(t, chase)

	_, err := cached.GetInstitution(ctx, "chase")
	require.NoError(t, err)

	renamed := chase
	renamed.Name = "JPMorgan Chase"
	require.NoError(t, cached.UpsertInstitution(ctx, &renamed))

	got, err := cached.GetInstitution(ctx, "chase")
	require.NoError(t, err)
	assert.Equal(t, "JPMorgan Chase", got.Name)
	assert.Equal(t, 2, repo.gets)

	require.NoError(t, cached.DeleteInstitution(ctx, "chase"))
	_, err = cached.GetInstitution(ctx, "chase")
	assert.ErrorIs(t, err, ErrInstitutionNotFound)
}

func TestCachedInstitutionRepository_RepoErrorPropagates(t *testing.T) {
	cached, repo, _ := newCached(t)
	repo.err = errors.New("connection refused")

	_, err := cached.GetInstitution(context.Background(), "chase")
	assert.EqualError(t, err, "connection refused")
}

func TestMemoryInstitutionRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryInstitutionRepository(
		models.Institution{ID: "b", Name: "Wells Fargo"},
		models.Institution{ID: "a", Name: "Ally"},
	)
	list, err := repo.ListInstitutions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Ally", list[0].Name)
	assert.Equal(t, "Wells Fargo", list[1].Name)
}
