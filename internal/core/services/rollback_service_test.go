package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"autopromo/internal/core/domain"
	"autopromo/internal/infrastructure/repositories/memory"
	"autopromo/pkg/cache"
	"autopromo/pkg/distributed"
	apperrors "autopromo/pkg/errors"

	"go.uber.org/zap/zaptest"
)

type rollbackFixture struct {
	experiments *memory.MemoryExperimentRepository
	audits      *memory.MemoryAuditRepository
	service     *RollbackService
}

func newRollbackFixture(t *testing.T) *rollbackFixture {
	t.Helper()

	log := zaptest.NewLogger(t).Sugar()
	experiments := memory.NewMemoryExperimentRepository()
	audits := memory.NewMemoryAuditRepository()

	experimentCache := cache.New(time.Minute)
	t.Cleanup(experimentCache.Stop)

	service := NewRollbackService(
		experiments,
		audits,
		distributed.NewProcessLockManager(),
		nil,
		experimentCache,
		nil,
		log,
	)

	return &rollbackFixture{
		experiments: experiments,
		audits:      audits,
		service:     service,
	}
}

// seedPromoted creates a promoted experiment: variant-a at 100% and an
// active promotion record for it.
func (f *rollbackFixture) seedPromoted(t *testing.T) (*domain.Experiment, *domain.PromotionAuditRecord) {
	t.Helper()
	ctx := context.Background()

	exp := testExperiment(time.Now().Add(-72 * time.Hour))
	exp.Variants[0].TrafficPercent = 0
	exp.Variants[1].TrafficPercent = 100
	if err := f.experiments.Create(ctx, exp); err != nil {
		t.Fatal(err)
	}

	record := &domain.PromotionAuditRecord{
		ID:             "rec-1",
		Type:           domain.RecordPromotion,
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		VariantID:      "var-a",
		VariantName:    "variant-a",
		PreviousID:     "var-control",
		PreviousName:   "control",
		Trigger:        domain.TriggerAuto,
		Confidence:     99.9,
		PromotedAt:     time.Now().Add(-time.Hour),
	}
	if err := f.audits.Append(ctx, record); err != nil {
		t.Fatal(err)
	}
	return exp, record
}

func TestRollback_DefaultEqualSplit(t *testing.T) {
	f := newRollbackFixture(t)
	exp, promoted := f.seedPromoted(t)
	ctx := context.Background()

	record, err := f.service.Rollback(ctx, exp.Name, "latency regression in production", nil)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	if record.Type != domain.RecordRolledBack {
		t.Errorf("record type = %s, want rolled_back", record.Type)
	}
	if record.RefersTo != promoted.ID {
		t.Errorf("refers_to = %s, want %s", record.RefersTo, promoted.ID)
	}
	if record.VariantName != "variant-a" {
		t.Errorf("variant = %q, want variant-a", record.VariantName)
	}

	updated, err := f.experiments.GetByID(ctx, exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range updated.Variants {
		if v.TrafficPercent != 50 {
			t.Errorf("variant %q traffic = %g, want 50", v.Name, v.TrafficPercent)
		}
	}

	history, err := f.audits.ListByExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected promotion + rollback records, got %d", len(history))
	}

	// The original promotion stays in history, now marked rolled back.
	var original *domain.PromotionAuditRecord
	for _, r := range history {
		if r.ID == promoted.ID {
			original = r
		}
	}
	if original == nil {
		t.Fatal("original promotion record missing from history")
	}
	if original.RolledBackAt == nil {
		t.Error("original promotion should be marked rolled back")
	}
	if original.RollbackReason != "latency regression in production" {
		t.Errorf("rollback reason = %q", original.RollbackReason)
	}
}

func TestRollback_ExplicitRedistribution(t *testing.T) {
	f := newRollbackFixture(t)
	exp, _ := f.seedPromoted(t)
	ctx := context.Background()

	_, err := f.service.Rollback(ctx, exp.Name, "operator decision", map[string]float64{
		"control":   80,
		"variant-a": 20,
	})
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	updated, _ := f.experiments.GetByID(ctx, exp.ID)
	if got := updated.VariantByName("control").TrafficPercent; got != 80 {
		t.Errorf("control traffic = %g, want 80", got)
	}
	if got := updated.VariantByName("variant-a").TrafficPercent; got != 20 {
		t.Errorf("variant-a traffic = %g, want 20", got)
	}
}

func TestRollback_InvalidSplitLeavesTrafficUnchanged(t *testing.T) {
	f := newRollbackFixture(t)
	exp, _ := f.seedPromoted(t)
	ctx := context.Background()

	// Sums to 99, not 100.
	_, err := f.service.Rollback(ctx, exp.Name, "bad split attempt", map[string]float64{
		"control":   79,
		"variant-a": 20,
	})
	appErr := apperrors.GetAppError(err)
	if appErr == nil || appErr.Code != apperrors.ErrCodeValidation {
		t.Fatalf("expected VALIDATION_FAILED, got %v", err)
	}

	updated, _ := f.experiments.GetByID(ctx, exp.ID)
	if got := updated.VariantByName("variant-a").TrafficPercent; got != 100 {
		t.Errorf("traffic mutated on failed validation: variant-a = %g", got)
	}

	history, _ := f.audits.ListByExperiment(ctx, exp.ID)
	if len(history) != 1 {
		t.Errorf("no rollback record should be written, got %d records", len(history))
	}
}

func TestRollback_NoActivePromotion(t *testing.T) {
	f := newRollbackFixture(t)
	ctx := context.Background()

	exp := testExperiment(time.Now().Add(-72 * time.Hour))
	if err := f.experiments.Create(ctx, exp); err != nil {
		t.Fatal(err)
	}

	_, err := f.service.Rollback(ctx, exp.Name, "nothing to revert", nil)
	if !errors.Is(err, domain.ErrNoActivePromotion) {
		t.Fatalf("expected ErrNoActivePromotion, got %v", err)
	}
}

func TestRollback_SecondRollbackFails(t *testing.T) {
	f := newRollbackFixture(t)
	exp, _ := f.seedPromoted(t)
	ctx := context.Background()

	if _, err := f.service.Rollback(ctx, exp.Name, "first revert", nil); err != nil {
		t.Fatalf("first Rollback() error = %v", err)
	}

	_, err := f.service.Rollback(ctx, exp.Name, "second revert", nil)
	if !errors.Is(err, domain.ErrNoActivePromotion) {
		t.Fatalf("expected ErrNoActivePromotion after rollback, got %v", err)
	}
}

func TestRollback_RequiresReason(t *testing.T) {
	f := newRollbackFixture(t)
	exp, _ := f.seedPromoted(t)

	_, err := f.service.Rollback(context.Background(), exp.Name, "", nil)
	appErr := apperrors.GetAppError(err)
	if appErr == nil || appErr.Code != apperrors.ErrCodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT for empty reason, got %v", err)
	}
}
