package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/stanstork/aggregator-router/internal/models"
)

// MemoryInstitutionRepository keeps institutions in process memory. It backs
// deployments without a database and tests.
type MemoryInstitutionRepository struct {
	mu           sync.RWMutex
	institutions map[string]models.Institution
}

func NewMemoryInstitutionRepository(seed ...models.Institution) *MemoryInstitutionRepository {
	r := &MemoryInstitutionRepository{institutions: make(map[string]models.Institution, len(seed))}
	for _, inst := range seed {
		r.institutions[inst.ID] = inst
	}
	return r
}

func (r *MemoryInstitutionRepository) GetInstitution(_ context.Context, id string) (*models.Institution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.institutions[id]
	if !ok {
		return nil, ErrInstitutionNotFound
	}
	return &inst, nil
}

func (r *MemoryInstitutionRepository) ListInstitutions(context.Context) ([]*models.Institution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Institution, 0, len(r.institutions))
	for _, inst := range r.institutions {
		inst := inst
		out = append(out, &inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryInstitutionRepository) UpsertInstitution(_ context.Context, inst *models.Institution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.institutions[inst.ID] = *inst
	return nil
}

func (r *MemoryInstitutionRepository) DeleteInstitution(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.institutions, id)
	return nil
}
