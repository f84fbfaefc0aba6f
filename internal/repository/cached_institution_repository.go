package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/aggregator-router/internal/cache"
	"github.com/stanstork/aggregator-router/internal/models"
)

const institutionKeyPrefix = "institution:"

// CachedInstitutionRepository reads institutions through the cache store.
// Writes go to the underlying repository and invalidate the cached copy.
type CachedInstitutionRepository struct {
	repo   InstitutionRepository
	store  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedInstitutionRepository(repo InstitutionRepository, store cache.Store, ttl time.Duration, logger zerolog.Logger) *CachedInstitutionRepository {
	return &CachedInstitutionRepository{
		repo:   repo,
		store:  store,
		ttl:    ttl,
		logger: logger.With().Str("component", "institution_cache").Logger(),
	}
}

func (r *CachedInstitutionRepository) GetInstitution(ctx context.Context, id string) (*models.Institution, error) {
	key := institutionKeyPrefix + id
	var inst models.Institution
	err := r.store.Get(ctx, key, &inst)
	if err == nil {
		return &inst, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		// A broken cache degrades to direct reads.
		r.logger.Warn().Err(err).Str("institution_id", id).Msg("institution cache read failed")
	}

	fresh, err := r.repo.GetInstitution(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.store.Set(ctx, key, fresh, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("institution_id", id).Msg("institution cache write failed")
	}
	return fresh, nil
}

func (r *CachedInstitutionRepository) ListInstitutions(ctx context.Context) ([]*models.Institution, error) {
	return r.repo.ListInstitutions(ctx)
}

func (r *CachedInstitutionRepository) UpsertInstitution(ctx context.Context, inst *models.Institution) error {
	if err := r.repo.UpsertInstitution(ctx, inst); err != nil {
		return err
	}
	return r.invalidate(ctx, inst.ID)
}

func (r *CachedInstitutionRepository) DeleteInstitution(ctx context.Context, id string) error {
	if err := r.repo.DeleteInstitution(ctx, id); err != nil {
		return err
	}
	return r.invalidate(ctx, id)
}

func (r *CachedInstitutionRepository) invalidate(ctx context.Context, id string) error {
	return errors.Wrapf(r.store.Del(ctx, institutionKeyPrefix+id), "failed to invalidate institution %s", id)
}
