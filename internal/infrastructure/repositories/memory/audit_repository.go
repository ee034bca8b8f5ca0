package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"autopromo/internal/core/domain"
)

type MemoryAuditRepository struct {
	records []*domain.PromotionAuditRecord
	mu      sync.RWMutex
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Append(ctx context.Context, record *domain.PromotionAuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *record
	r.records = append(r.records, &clone)
	return nil
}

// LatestActive returns the most recent promotion record for the experiment
// that has not been rolled back.
func (r *MemoryAuditRepository) LatestActive(ctx context.Context, id domain.ExperimentID) (*domain.PromotionAuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.PromotionAuditRecord
	for _, rec := range r.records {
		if rec.ExperimentID != id || rec.Type != domain.RecordPromotion || rec.RolledBackAt != nil {
			continue
		}
		if latest == nil || rec.PromotedAt.After(latest.PromotedAt) {
			latest = rec
		}
	}

	if latest == nil {
		return nil, domain.ErrNoActivePromotion
	}

	clone := *latest
	return &clone, nil
}

func (r *MemoryAuditRepository) MarkRolledBack(ctx context.Context, recordID domain.AuditRecordID, at time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.ID == recordID {
			rolledBackAt := at
			rec.RolledBackAt = &rolledBackAt
			rec.RollbackReason = reason
			return nil
		}
	}

	return domain.ErrAuditRecordNotFound
}

// ListByExperiment returns the full history, newest first.
func (r *MemoryAuditRepository) ListByExperiment(ctx context.Context, id domain.ExperimentID) ([]*domain.PromotionAuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var history []*domain.PromotionAuditRecord
	for _, rec := range r.records {
		if rec.ExperimentID == id {
			clone := *rec
			history = append(history, &clone)
		}
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].PromotedAt.After(history[j].PromotedAt)
	})

	return history, nil
}

func (r *MemoryAuditRepository) CountPromotionsSince(ctx context.Context, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, rec := range r.records {
		if rec.Type == domain.RecordPromotion && !rec.PromotedAt.Before(since) {
			count++
		}
	}

	return count, nil
}
