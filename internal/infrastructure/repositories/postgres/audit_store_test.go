package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"autopromo/internal/core/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var auditRowColumns = []string{
	"id", "record_type", "experiment_id", "experiment_name", "variant_id", "variant_name",
	"previous_id", "previous_name", "trigger_kind", "operator_id", "confidence", "improvement",
	"sample_size", "checks", "reason", "refers_to", "promoted_at", "rolled_back_at", "rollback_reason",
}

func auditRow(t *testing.T, record *domain.PromotionAuditRecord) *sqlmock.Rows {
	t.Helper()
	checks, err := json.Marshal(record.Checks)
	require.NoError(t, err)

	return sqlmock.NewRows(auditRowColumns).AddRow(
		string(record.ID), string(record.Type), string(record.ExperimentID), record.ExperimentName,
		string(record.VariantID), record.VariantName,
		string(record.PreviousID), record.PreviousName,
		string(record.Trigger), record.OperatorID,
		record.Confidence, record.Improvement, record.SampleSize,
		checks, record.Reason, string(record.RefersTo),
		record.PromotedAt, record.RolledBackAt, record.RollbackReason,
	)
}

func sampleRecord() *domain.PromotionAuditRecord {
	return &domain.PromotionAuditRecord{
		ID:             "rec-1",
		Type:           domain.RecordPromotion,
		ExperimentID:   "exp-1",
		ExperimentName: "checkout-flow",
		VariantID:      "var-a",
		VariantName:    "variant-a",
		PreviousID:     "var-control",
		PreviousName:   "control",
		Trigger:        domain.TriggerAuto,
		Confidence:     99.9,
		Improvement:    0.0625,
		SampleSize:     1500,
		Checks: []domain.SafetyCheckResult{
			{Name: domain.CheckWinnerSampleSize, Passed: true, Severity: domain.SeverityCritical},
		},
		Reason:     "automated promotion after eligibility evaluation",
		PromotedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestAuditAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresAuditRepository(db)
	require.NoError(t, repo.Append(context.Background(), sampleRecord()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLatestActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	want := sampleRecord()
	mock.ExpectQuery("SELECT (.+) FROM audit_records").
		WithArgs("exp-1", "promotion").
		WillReturnRows(auditRow(t, want))

	repo := NewPostgresAuditRepository(db)
	got, err := repo.LatestActive(context.Background(), "exp-1")
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.VariantName, got.VariantName)
	assert.Equal(t, want.Confidence, got.Confidence)
	assert.Len(t, got.Checks, 1)
	assert.Nil(t, got.RolledBackAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLatestActive_NoActivePromotion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM audit_records").
		WithArgs("exp-1", "promotion").
		WillReturnRows(sqlmock.NewRows(auditRowColumns))

	repo := NewPostgresAuditRepository(db)
	_, err = repo.LatestActive(context.Background(), "exp-1")
	assert.ErrorIs(t, err, domain.ErrNoActivePromotion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditMarkRolledBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE audit_records SET rolled_back_at").
		WithArgs(at, "latency regression", "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresAuditRepository(db)
	require.NoError(t, repo.MarkRolledBack(context.Background(), "rec-1", at, "latency regression"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditMarkRolledBack_AlreadyRolledBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// The WHERE clause excludes already-rolled-back records; zero affected
	// rows means the record is gone or was reverted before.
	mock.ExpectExec("UPDATE audit_records SET rolled_back_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostgresAuditRepository(db)
	err = repo.MarkRolledBack(context.Background(), "rec-1", time.Now(), "late revert")
	assert.ErrorIs(t, err, domain.ErrAuditRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditCountPromotionsSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_records").
		WithArgs("promotion", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	repo := NewPostgresAuditRepository(db)
	count, err := repo.CountPromotionsSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
