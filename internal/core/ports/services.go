package ports

import (
	"context"

	"autopromo/internal/core/domain"
)

// MetricsAggregator derives per-variant statistics from raw events for a
// time window. Read-only; data-source errors propagate.
type MetricsAggregator interface {
	ForExperiment(ctx context.Context, exp *domain.Experiment, window domain.TimeWindow) ([]domain.VariantMetrics, error)
	ForVariant(ctx context.Context, variant domain.Variant, window domain.TimeWindow) (domain.VariantMetrics, error)
}

// EligibilityService combines significance and safety results into a
// single recommendation. A nil rules argument resolves the active preset;
// a non-nil one takes precedence for this call only.
type EligibilityService interface {
	Evaluate(ctx context.Context, id domain.ExperimentID, rules *domain.PromotionRules) (*domain.PromotionEligibility, error)
}

// PromoteOptions parameterizes one promotion attempt.
type PromoteOptions struct {
	Trigger    domain.PromotionTrigger
	OperatorID string
	Reason     string

	// Force bypasses the eligibility gate. The audit record still captures
	// the bypass. VariantName is required when forcing.
	Force       bool
	VariantName string

	Rules *domain.PromotionRules
}

// PromotionResult reports what a promotion attempt did.
type PromotionResult struct {
	Promoted         bool                         `json:"promoted"`
	AlreadyPromoted  bool                         `json:"already_promoted"`
	Record           *domain.PromotionAuditRecord `json:"record,omitempty"`
	Eligibility      *domain.PromotionEligibility `json:"eligibility,omitempty"`
	RejectionMessage string                       `json:"rejection_message,omitempty"`
}

// PromotionService mutates traffic allocation atomically and writes the
// audit trail.
type PromotionService interface {
	Promote(ctx context.Context, id domain.ExperimentID, opts PromoteOptions) (*PromotionResult, error)
}

// RollbackService reverts a prior promotion. A nil redistribution defaults
// to an equal split across all variants.
type RollbackService interface {
	Rollback(ctx context.Context, experimentName, reason string, redistribution map[string]float64) (*domain.PromotionAuditRecord, error)
}

// AlertDispatcher fans alerts out to subscribed operators. One failing
// delivery never blocks the others.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alerts []domain.Alert, minLevel domain.Severity) (*domain.DispatchReport, error)
}

// ScanRecorder receives pipeline observations; the Prometheus collector
// implements it. A nil recorder is valid and records nothing.
type ScanRecorder interface {
	EvaluationCompleted(recommendation domain.Recommendation)
	EvaluationFailed()
	PromotionExecuted(trigger domain.PromotionTrigger)
	RollbackExecuted()
	AlertsDispatched(sent, failed int)
	ScanCompleted(seconds float64)
}
