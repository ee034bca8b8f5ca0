package domain

import "time"

// Severity classifies a safety check outcome or alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// rank orders severities for minimum-level filtering.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

// SafetyCheckResult is the outcome of one guard condition. The engine
// always produces the full ordered list, even when earlier checks failed.
type SafetyCheckResult struct {
	Name      string   `json:"name"`
	Passed    bool     `json:"passed"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
}

// Recommendation is the combined verdict of significance and safety.
type Recommendation string

const (
	RecommendPromote      Recommendation = "promote"
	RecommendWait         Recommendation = "wait"
	RecommendManualReview Recommendation = "manual_review"
	RecommendNotReady     Recommendation = "not_ready"
)

// SignificanceResult is the output of the two-proportion test.
type SignificanceResult struct {
	Significant bool
	WinnerName  string // empty when no winner can be claimed
	Confidence  float64
	ZScore      float64
}

// PromotionEligibility is derived fresh on every evaluation and never
// cached: traffic and error data change continuously.
type PromotionEligibility struct {
	Eligible       bool                `json:"eligible"`
	ExperimentID   ExperimentID        `json:"experiment_id"`
	ExperimentName string              `json:"experiment_name"`
	WinningVariant string              `json:"winning_variant,omitempty"`
	Confidence     float64             `json:"confidence"`
	Improvement    float64             `json:"improvement"`
	Checks         []SafetyCheckResult `json:"checks"`
	Recommendation Recommendation      `json:"recommendation"`
	EvaluatedAt    time.Time           `json:"evaluated_at"`
}

// CriticalFailure reports whether any critical-severity check failed.
func (e *PromotionEligibility) CriticalFailure() bool {
	for _, c := range e.Checks {
		if !c.Passed && c.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// WarningFailure reports whether any warning-severity check failed.
func (e *PromotionEligibility) WarningFailure() bool {
	for _, c := range e.Checks {
		if !c.Passed && c.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// PromotionTrigger records who initiated a promotion.
type PromotionTrigger string

const (
	TriggerAuto   PromotionTrigger = "auto"
	TriggerManual PromotionTrigger = "manual"
)

// AuditRecordType distinguishes promotions from their rollbacks.
type AuditRecordType string

const (
	RecordPromotion  AuditRecordType = "promotion"
	RecordRolledBack AuditRecordType = "rolled_back"
)

// PromotionAuditRecord is immutable once written except for the rollback
// fields, which only the rollback path may set.
type PromotionAuditRecord struct {
	ID             AuditRecordID    `json:"id"`
	Type           AuditRecordType  `json:"type"`
	ExperimentID   ExperimentID     `json:"experiment_id"`
	ExperimentName string           `json:"experiment_name"`
	VariantID      VariantID        `json:"variant_id"`
	VariantName    string           `json:"variant_name"`
	PreviousID     VariantID        `json:"previous_id"`
	PreviousName   string           `json:"previous_name"`
	Trigger        PromotionTrigger `json:"trigger"`
	OperatorID     string           `json:"operator_id,omitempty"` // empty for automated triggers
	Confidence     float64          `json:"confidence"`
	Improvement    float64          `json:"improvement"`
	SampleSize     int64            `json:"sample_size"`

	Checks []SafetyCheckResult `json:"checks"`
	Reason string              `json:"reason"`

	// RefersTo links a rolled_back record to the promotion it reverted.
	RefersTo AuditRecordID `json:"refers_to,omitempty"`

	PromotedAt     time.Time  `json:"promoted_at"`
	RolledBackAt   *time.Time `json:"rolled_back_at,omitempty"`
	RollbackReason string     `json:"rollback_reason,omitempty"`
}
