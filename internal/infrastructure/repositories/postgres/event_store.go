package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"autopromo/internal/core/domain"
)

type PostgresEventStore struct {
	db *sql.DB
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) ListEvents(ctx context.Context, variantID domain.VariantID, window domain.TimeWindow) ([]domain.RequestEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, variant_id, user_id, occurred_at, latency_ms, failed
		FROM request_events
		WHERE variant_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at`,
		string(variantID), window.Start, window.End,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []domain.RequestEvent
	for rows.Next() {
		var ev domain.RequestEvent
		if err := rows.Scan(&ev.ID, &ev.ExperimentID, &ev.VariantID, &ev.UserID, &ev.Timestamp, &ev.LatencyMs, &ev.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}
