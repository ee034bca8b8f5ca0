package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"autopromo/internal/core/domain"
)

func promotionRecord(id string, expID domain.ExperimentID, at time.Time) *domain.PromotionAuditRecord {
	return &domain.PromotionAuditRecord{
		ID:           domain.AuditRecordID(id),
		Type:         domain.RecordPromotion,
		ExperimentID: expID,
		VariantName:  "variant-a",
		PromotedAt:   at,
	}
}

func TestLatestActive(t *testing.T) {
	repo := NewMemoryAuditRepository()
	ctx := context.Background()
	now := time.Now()

	repo.Append(ctx, promotionRecord("rec-old", "exp-1", now.Add(-2*time.Hour)))
	repo.Append(ctx, promotionRecord("rec-new", "exp-1", now.Add(-time.Hour)))
	repo.Append(ctx, promotionRecord("rec-other", "exp-2", now))

	got, err := repo.LatestActive(ctx, "exp-1")
	if err != nil {
		t.Fatalf("LatestActive() error = %v", err)
	}
	if got.ID != "rec-new" {
		t.Errorf("latest = %s, want rec-new", got.ID)
	}
}

func TestLatestActive_SkipsRolledBack(t *testing.T) {
	repo := NewMemoryAuditRepository()
	ctx := context.Background()
	now := time.Now()

	repo.Append(ctx, promotionRecord("rec-old", "exp-1", now.Add(-2*time.Hour)))
	repo.Append(ctx, promotionRecord("rec-new", "exp-1", now.Add(-time.Hour)))

	if err := repo.MarkRolledBack(ctx, "rec-new", now, "regression"); err != nil {
		t.Fatalf("MarkRolledBack() error = %v", err)
	}

	got, err := repo.LatestActive(ctx, "exp-1")
	if err != nil {
		t.Fatalf("LatestActive() error = %v", err)
	}
	if got.ID != "rec-old" {
		t.Errorf("latest = %s, want rec-old after rollback of rec-new", got.ID)
	}
}

func TestLatestActive_NoneFound(t *testing.T) {
	repo := NewMemoryAuditRepository()

	_, err := repo.LatestActive(context.Background(), "exp-1")
	if !errors.Is(err, domain.ErrNoActivePromotion) {
		t.Fatalf("expected ErrNoActivePromotion, got %v", err)
	}
}

func TestMarkRolledBack_UnknownRecord(t *testing.T) {
	repo := NewMemoryAuditRepository()

	err := repo.MarkRolledBack(context.Background(), "missing", time.Now(), "reason")
	if !errors.Is(err, domain.ErrAuditRecordNotFound) {
		t.Fatalf("expected ErrAuditRecordNotFound, got %v", err)
	}
}

func TestListByExperiment_NewestFirst(t *testing.T) {
	repo := NewMemoryAuditRepository()
	ctx := context.Background()
	now := time.Now()

	repo.Append(ctx, promotionRecord("rec-1", "exp-1", now.Add(-3*time.Hour)))
	repo.Append(ctx, promotionRecord("rec-2", "exp-1", now.Add(-time.Hour)))
	repo.Append(ctx, promotionRecord("rec-3", "exp-1", now.Add(-2*time.Hour)))

	history, err := repo.ListByExperiment(ctx, "exp-1")
	if err != nil {
		t.Fatalf("ListByExperiment() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d records, want 3", len(history))
	}
	want := []domain.AuditRecordID{"rec-2", "rec-3", "rec-1"}
	for i, id := range want {
		if history[i].ID != id {
			t.Errorf("history[%d] = %s, want %s", i, history[i].ID, id)
		}
	}
}

func TestAppend_ClonesRecord(t *testing.T) {
	repo := NewMemoryAuditRepository()
	ctx := context.Background()

	record := promotionRecord("rec-1", "exp-1", time.Now())
	repo.Append(ctx, record)

	// Mutating the caller's copy must not affect stored history.
	record.VariantName = "mutated"

	history, _ := repo.ListByExperiment(ctx, "exp-1")
	if history[0].VariantName != "variant-a" {
		t.Errorf("stored record was mutated: %q", history[0].VariantName)
	}
}

func TestCountPromotionsSince(t *testing.T) {
	repo := NewMemoryAuditRepository()
	ctx := context.Background()
	now := time.Now()

	repo.Append(ctx, promotionRecord("rec-1", "exp-1", now.Add(-30*time.Minute)))
	repo.Append(ctx, promotionRecord("rec-2", "exp-2", now.Add(-45*time.Minute)))
	repo.Append(ctx, promotionRecord("rec-3", "exp-3", now.Add(-2*time.Hour)))
	// Rollback records never count against the promotion quota.
	repo.Append(ctx, &domain.PromotionAuditRecord{
		ID: "rec-rb", Type: domain.RecordRolledBack, ExperimentID: "exp-1",
		PromotedAt: now.Add(-10 * time.Minute),
	})

	count, err := repo.CountPromotionsSince(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountPromotionsSince() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}
