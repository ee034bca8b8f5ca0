package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"autopromo/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// RedisExperimentRepository stores each experiment, variants included, as
// one JSON value. Traffic updates rewrite the whole value in a single SET,
// which is atomic under the per-experiment promotion lock.
type RedisExperimentRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisExperimentRepository(client *redis.Client) *RedisExperimentRepository {
	return &RedisExperimentRepository{
		client: client,
		prefix: "autopromo:experiment:",
	}
}

func (r *RedisExperimentRepository) experimentKey(id domain.ExperimentID) string {
	return r.prefix + string(id)
}

func (r *RedisExperimentRepository) nameKey(name string) string {
	return r.prefix + "name:" + name
}

func (r *RedisExperimentRepository) activeKey() string {
	return r.prefix + "active"
}

// Create registers an experiment. Not part of the engine's port surface;
// used by seeding and tests.
func (r *RedisExperimentRepository) Create(ctx context.Context, exp *domain.Experiment) error {
	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to marshal experiment: %w", err)
	}

	if err := r.client.Set(ctx, r.experimentKey(exp.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set experiment in Redis: %w", err)
	}
	if err := r.client.Set(ctx, r.nameKey(exp.Name), string(exp.ID), 0).Err(); err != nil {
		return fmt.Errorf("failed to set experiment name index: %w", err)
	}

	if exp.Active {
		if err := r.client.SAdd(ctx, r.activeKey(), string(exp.ID)).Err(); err != nil {
			return fmt.Errorf("failed to add experiment to active set: %w", err)
		}
	}

	return nil
}

func (r *RedisExperimentRepository) GetByID(ctx context.Context, id domain.ExperimentID) (*domain.Experiment, error) {
	data, err := r.client.Get(ctx, r.experimentKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrExperimentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment from Redis: %w", err)
	}

	var exp domain.Experiment
	if err := json.Unmarshal([]byte(data), &exp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal experiment: %w", err)
	}

	return &exp, nil
}

func (r *RedisExperimentRepository) GetByName(ctx context.Context, name string) (*domain.Experiment, error) {
	id, err := r.client.Get(ctx, r.nameKey(name)).Result()
	if err == redis.Nil {
		return nil, domain.ErrExperimentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve experiment name: %w", err)
	}

	return r.GetByID(ctx, domain.ExperimentID(id))
}

func (r *RedisExperimentRepository) ListActive(ctx context.Context) ([]*domain.Experiment, error) {
	ids, err := r.client.SMembers(ctx, r.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active experiments: %w", err)
	}

	experiments := make([]*domain.Experiment, 0, len(ids))
	for _, id := range ids {
		exp, err := r.GetByID(ctx, domain.ExperimentID(id))
		if err == domain.ErrExperimentNotFound {
			// Stale membership; drop it and keep going.
			r.client.SRem(ctx, r.activeKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, exp)
	}

	return experiments, nil
}

func (r *RedisExperimentRepository) UpdateTraffic(ctx context.Context, id domain.ExperimentID, allocation map[domain.VariantID]float64) error {
	exp, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	for variantID := range allocation {
		found := false
		for i := range exp.Variants {
			if exp.Variants[i].ID == variantID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", domain.ErrVariantNotFound, variantID)
		}
	}

	for i := range exp.Variants {
		if pct, ok := allocation[exp.Variants[i].ID]; ok {
			exp.Variants[i].TrafficPercent = pct
		}
	}

	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to marshal experiment: %w", err)
	}

	if err := r.client.Set(ctx, r.experimentKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update experiment in Redis: %w", err)
	}

	return nil
}
