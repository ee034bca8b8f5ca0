package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"autopromo/internal/core/domain"
)

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

const auditColumns = `id, record_type, experiment_id, experiment_name, variant_id, variant_name,
	previous_id, previous_name, trigger_kind, operator_id, confidence, improvement,
	sample_size, checks, reason, refers_to, promoted_at, rolled_back_at, rollback_reason`

func (r *PostgresAuditRepository) Append(ctx context.Context, record *domain.PromotionAuditRecord) error {
	checks, err := json.Marshal(record.Checks)
	if err != nil {
		return fmt.Errorf("failed to marshal safety checks: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_records (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		string(record.ID), string(record.Type), string(record.ExperimentID), record.ExperimentName,
		string(record.VariantID), record.VariantName,
		string(record.PreviousID), record.PreviousName,
		string(record.Trigger), record.OperatorID,
		record.Confidence, record.Improvement, record.SampleSize,
		checks, record.Reason, string(record.RefersTo),
		record.PromotedAt, record.RolledBackAt, record.RollbackReason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

func (r *PostgresAuditRepository) LatestActive(ctx context.Context, id domain.ExperimentID) (*domain.PromotionAuditRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_records
		WHERE experiment_id = $1 AND record_type = $2 AND rolled_back_at IS NULL
		ORDER BY promoted_at DESC LIMIT 1`,
		string(id), string(domain.RecordPromotion),
	)

	record, err := scanAuditRecord(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoActivePromotion
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest promotion: %w", err)
	}

	return record, nil
}

func (r *PostgresAuditRepository) MarkRolledBack(ctx context.Context, recordID domain.AuditRecordID, at time.Time, reason string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE audit_records SET rolled_back_at = $1, rollback_reason = $2
		WHERE id = $3 AND rolled_back_at IS NULL`,
		at, reason, string(recordID),
	)
	if err != nil {
		return fmt.Errorf("failed to mark record rolled back: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrAuditRecordNotFound
	}

	return nil
}

func (r *PostgresAuditRepository) ListByExperiment(ctx context.Context, id domain.ExperimentID) ([]*domain.PromotionAuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_records
		WHERE experiment_id = $1 ORDER BY promoted_at DESC`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit history: %w", err)
	}
	defer rows.Close()

	var records []*domain.PromotionAuditRecord
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *PostgresAuditRepository) CountPromotionsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_records
		WHERE record_type = $1 AND promoted_at >= $2`,
		string(domain.RecordPromotion), since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count promotions: %w", err)
	}

	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditRecord(row rowScanner) (*domain.PromotionAuditRecord, error) {
	var record domain.PromotionAuditRecord
	var checksJSON []byte
	var rolledBackAt sql.NullTime

	err := row.Scan(
		&record.ID, &record.Type, &record.ExperimentID, &record.ExperimentName,
		&record.VariantID, &record.VariantName,
		&record.PreviousID, &record.PreviousName,
		&record.Trigger, &record.OperatorID,
		&record.Confidence, &record.Improvement, &record.SampleSize,
		&checksJSON, &record.Reason, &record.RefersTo,
		&record.PromotedAt, &rolledBackAt, &record.RollbackReason,
	)
	if err != nil {
		return nil, err
	}

	if rolledBackAt.Valid {
		record.RolledBackAt = &rolledBackAt.Time
	}
	if len(checksJSON) > 0 {
		if err := json.Unmarshal(checksJSON, &record.Checks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal safety checks: %w", err)
		}
	}

	return &record, nil
}
