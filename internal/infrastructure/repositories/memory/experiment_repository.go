package memory

import (
	"context"
	"fmt"
	"sync"

	"autopromo/internal/core/domain"
)

type MemoryExperimentRepository struct {
	experiments map[domain.ExperimentID]*domain.Experiment
	byName      map[string]domain.ExperimentID
	mu          sync.RWMutex
}

func NewMemoryExperimentRepository() *MemoryExperimentRepository {
	return &MemoryExperimentRepository{
		experiments: make(map[domain.ExperimentID]*domain.Experiment),
		byName:      make(map[string]domain.ExperimentID),
	}
}

// Create registers an experiment. Not part of the engine's port surface;
// used by seeding and tests.
func (r *MemoryExperimentRepository) Create(ctx context.Context, exp *domain.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.experiments[exp.ID]; exists {
		return fmt.Errorf("experiment already exists: %s", exp.ID)
	}

	r.experiments[exp.ID] = cloneExperiment(exp)
	r.byName[exp.Name] = exp.ID
	return nil
}

func (r *MemoryExperimentRepository) GetByID(ctx context.Context, id domain.ExperimentID) (*domain.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exp, exists := r.experiments[id]
	if !exists {
		return nil, domain.ErrExperimentNotFound
	}

	return cloneExperiment(exp), nil
}

func (r *MemoryExperimentRepository) GetByName(ctx context.Context, name string) (*domain.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byName[name]
	if !exists {
		return nil, domain.ErrExperimentNotFound
	}

	return cloneExperiment(r.experiments[id]), nil
}

func (r *MemoryExperimentRepository) ListActive(ctx context.Context) ([]*domain.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*domain.Experiment
	for _, exp := range r.experiments {
		if exp.Active {
			active = append(active, cloneExperiment(exp))
		}
	}

	return active, nil
}

func (r *MemoryExperimentRepository) UpdateTraffic(ctx context.Context, id domain.ExperimentID, allocation map[domain.VariantID]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp, exists := r.experiments[id]
	if !exists {
		return domain.ErrExperimentNotFound
	}

	for variantID := range allocation {
		if variantByID(exp, variantID) == nil {
			return fmt.Errorf("%w: %s", domain.ErrVariantNotFound, variantID)
		}
	}

	for i := range exp.Variants {
		if pct, ok := allocation[exp.Variants[i].ID]; ok {
			exp.Variants[i].TrafficPercent = pct
		}
	}

	return nil
}

func variantByID(exp *domain.Experiment, id domain.VariantID) *domain.Variant {
	for i := range exp.Variants {
		if exp.Variants[i].ID == id {
			return &exp.Variants[i]
		}
	}
	return nil
}

// cloneExperiment guards callers from mutating shared state outside the
// repository lock.
func cloneExperiment(exp *domain.Experiment) *domain.Experiment {
	clone := *exp
	clone.Variants = make([]domain.Variant, len(exp.Variants))
	copy(clone.Variants, exp.Variants)
	return &clone
}
