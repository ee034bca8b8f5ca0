package ports

import (
	"context"
	"time"

	"autopromo/internal/core/domain"
)

// EventStore is the read-only query surface over raw request/response
// events. Used exclusively by the metrics aggregator.
type EventStore interface {
	ListEvents(ctx context.Context, variantID domain.VariantID, window domain.TimeWindow) ([]domain.RequestEvent, error)
}

// ExperimentRepository reads experiments and writes nothing except the
// per-variant traffic percentages, which must change atomically for the
// whole experiment.
type ExperimentRepository interface {
	GetByID(ctx context.Context, id domain.ExperimentID) (*domain.Experiment, error)
	GetByName(ctx context.Context, name string) (*domain.Experiment, error)
	ListActive(ctx context.Context) ([]*domain.Experiment, error)
	UpdateTraffic(ctx context.Context, id domain.ExperimentID, allocation map[domain.VariantID]float64) error
}

// AuditRepository is append-and-selectively-update: records are immutable
// once written except for the rollback fields.
type AuditRepository interface {
	Append(ctx context.Context, record *domain.PromotionAuditRecord) error
	LatestActive(ctx context.Context, id domain.ExperimentID) (*domain.PromotionAuditRecord, error)
	MarkRolledBack(ctx context.Context, recordID domain.AuditRecordID, at time.Time, reason string) error
	ListByExperiment(ctx context.Context, id domain.ExperimentID) ([]*domain.PromotionAuditRecord, error)
	CountPromotionsSince(ctx context.Context, since time.Time) (int, error)
}

// AlertLog keeps delivery bookkeeping for dispatched alerts and backs the
// recent-incident safety check.
type AlertLog interface {
	Record(ctx context.Context, alert domain.Alert) error
	CountCritical(ctx context.Context, experimentName, variantName string, since time.Time) (int, error)
}

// SubscriberRegistry resolves the operators subscribed to alerts.
type SubscriberRegistry interface {
	ListSubscribers(ctx context.Context) ([]domain.Subscriber, error)
}

// NotificationGateway accepts a structured payload and delivers it over
// whatever channel the recipient address implies.
type NotificationGateway interface {
	Send(ctx context.Context, n domain.Notification) error
}

// ExperimentLock serializes promotion and rollback for one experiment.
// TryLock never blocks; contention surfaces as a retryable conflict.
type ExperimentLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// LockManager hands out per-experiment locks.
type LockManager interface {
	ForExperiment(id domain.ExperimentID) ExperimentLock
}
