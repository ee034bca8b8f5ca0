package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"autopromo/internal/core/domain"
)

type PostgresAlertLog struct {
	db *sql.DB
}

func NewPostgresAlertLog(db *sql.DB) *PostgresAlertLog {
	return &PostgresAlertLog{db: db}
}

func (l *PostgresAlertLog) Record(ctx context.Context, alert domain.Alert) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO alerts (id, level, alert_type, message, experiment, variant, metric, value, threshold, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		alert.ID, string(alert.Level), alert.Type, alert.Message,
		alert.Experiment, alert.Variant, alert.Metric,
		alert.Value, alert.Threshold, alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

func (l *PostgresAlertLog) CountCritical(ctx context.Context, experimentName, variantName string, since time.Time) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts
		WHERE experiment = $1 AND variant = $2 AND level = $3 AND created_at >= $4`,
		experimentName, variantName, string(domain.SeverityCritical), since,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count critical alerts: %w", err)
	}

	return count, nil
}
