package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Open connects to Postgres and applies the schema.
func Open(dsn string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if logger != nil {
		logger.Info("connected to Postgres")
	}

	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS variants (
			id TEXT PRIMARY KEY,
			experiment_id TEXT NOT NULL REFERENCES experiments(id),
			name TEXT NOT NULL,
			traffic_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			config JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (experiment_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS request_events (
			id TEXT PRIMARY KEY,
			experiment_id TEXT NOT NULL,
			variant_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL,
			latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			failed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_events_variant_time
			ON request_events (variant_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS audit_records (
			id TEXT PRIMARY KEY,
			record_type TEXT NOT NULL,
			experiment_id TEXT NOT NULL,
			experiment_name TEXT NOT NULL,
			variant_id TEXT NOT NULL,
			variant_name TEXT NOT NULL,
			previous_id TEXT NOT NULL DEFAULT '',
			previous_name TEXT NOT NULL DEFAULT '',
			trigger_kind TEXT NOT NULL,
			operator_id TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			improvement DOUBLE PRECISION NOT NULL DEFAULT 0,
			sample_size BIGINT NOT NULL DEFAULT 0,
			checks JSONB NOT NULL DEFAULT '[]',
			reason TEXT NOT NULL DEFAULT '',
			refers_to TEXT NOT NULL DEFAULT '',
			promoted_at TIMESTAMPTZ NOT NULL,
			rolled_back_at TIMESTAMPTZ,
			rollback_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_records_experiment
			ON audit_records (experiment_id, promoted_at DESC)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			level TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			message TEXT NOT NULL,
			experiment TEXT NOT NULL DEFAULT '',
			variant TEXT NOT NULL DEFAULT '',
			metric TEXT NOT NULL DEFAULT '',
			value DOUBLE PRECISION NOT NULL DEFAULT 0,
			threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_incident_lookup
			ON alerts (experiment, variant, level, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}
