package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"autopromo/internal/core/domain"
)

type PostgresExperimentRepository struct {
	db *sql.DB
}

func NewPostgresExperimentRepository(db *sql.DB) *PostgresExperimentRepository {
	return &PostgresExperimentRepository{db: db}
}

func (r *PostgresExperimentRepository) GetByID(ctx context.Context, id domain.ExperimentID) (*domain.Experiment, error) {
	return r.getByCondition(ctx, "e.id = $1", string(id))
}

func (r *PostgresExperimentRepository) GetByName(ctx context.Context, name string) (*domain.Experiment, error) {
	return r.getByCondition(ctx, "e.name = $1", name)
}

func (r *PostgresExperimentRepository) getByCondition(ctx context.Context, condition string, arg interface{}) (*domain.Experiment, error) {
	query := `SELECT e.id, e.name, e.active, e.started_at, e.ended_at
		FROM experiments e WHERE ` + condition

	var exp domain.Experiment
	var endedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&exp.ID, &exp.Name, &exp.Active, &exp.StartedAt, &endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrExperimentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query experiment: %w", err)
	}
	if endedAt.Valid {
		exp.EndedAt = &endedAt.Time
	}

	variants, err := r.loadVariants(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	exp.Variants = variants

	return &exp, nil
}

func (r *PostgresExperimentRepository) loadVariants(ctx context.Context, id domain.ExperimentID) ([]domain.Variant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, experiment_id, name, traffic_percent, config, created_at
		FROM variants WHERE experiment_id = $1 ORDER BY created_at, id`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	var variants []domain.Variant
	for rows.Next() {
		var v domain.Variant
		var configJSON []byte
		if err := rows.Scan(&v.ID, &v.ExperimentID, &v.Name, &v.TrafficPercent, &configJSON, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &v.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal variant config: %w", err)
			}
		}
		variants = append(variants, v)
	}

	return variants, rows.Err()
}

func (r *PostgresExperimentRepository) ListActive(ctx context.Context) ([]*domain.Experiment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM experiments WHERE active = TRUE ORDER BY started_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active experiments: %w", err)
	}
	defer rows.Close()

	var ids []domain.ExperimentID
	for rows.Next() {
		var id domain.ExperimentID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan experiment id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	experiments := make([]*domain.Experiment, 0, len(ids))
	for _, id := range ids {
		exp, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, exp)
	}

	return experiments, nil
}

// UpdateTraffic rewrites the allocation in one transaction, holding row
// locks on the experiment's variants for the duration.
func (r *PostgresExperimentRepository) UpdateTraffic(ctx context.Context, id domain.ExperimentID, allocation map[domain.VariantID]float64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM variants WHERE experiment_id = $1 FOR UPDATE`,
		string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to lock variants: %w", err)
	}

	known := make(map[domain.VariantID]bool)
	for rows.Next() {
		var variantID domain.VariantID
		if err := rows.Scan(&variantID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan variant id: %w", err)
		}
		known[variantID] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(known) == 0 {
		return domain.ErrExperimentNotFound
	}
	for variantID := range allocation {
		if !known[variantID] {
			return fmt.Errorf("%w: %s", domain.ErrVariantNotFound, variantID)
		}
	}

	for variantID, pct := range allocation {
		if _, err := tx.ExecContext(ctx,
			`UPDATE variants SET traffic_percent = $1 WHERE id = $2`,
			pct, string(variantID),
		); err != nil {
			return fmt.Errorf("failed to update variant traffic: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit traffic update: %w", err)
	}

	return nil
}
