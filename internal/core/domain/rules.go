package domain

import (
	"fmt"
	"time"
)

// Check names, in the order the safety engine runs them.
const (
	CheckExclusionList        = "exclusion_list"
	CheckWinnerSampleSize     = "winner_sample_size"
	CheckControlSampleSize    = "control_sample_size"
	CheckConfidenceLevel      = "confidence_level"
	CheckImprovement          = "improvement"
	CheckWinnerErrorRate      = "winner_error_rate"
	CheckErrorRateDegradation = "error_rate_degradation"
	CheckWinnerP95Latency     = "winner_p95_latency"
	CheckLatencyDegradation   = "latency_degradation"
	CheckMinTestDuration      = "min_test_duration"
	CheckMaxTestDuration      = "max_test_duration"
	CheckTrafficBalance       = "traffic_balance"
	CheckRecentIncidents      = "recent_incidents"
	CheckManualApproval       = "manual_approval"
)

// PromotionRules is a named threshold set. Presets live in configuration;
// explicit per-call rule sets take precedence over the active preset.
type PromotionRules struct {
	Name string `yaml:"name" json:"name"`

	MinSampleSize      int64   `yaml:"min_sample_size" json:"min_sample_size"`
	MinConfidenceLevel float64 `yaml:"min_confidence_level" json:"min_confidence_level"` // percent, e.g. 95
	MinImprovement     float64 `yaml:"min_improvement" json:"min_improvement"`           // relative, e.g. 0.02
	MaxErrorRate       float64 `yaml:"max_error_rate" json:"max_error_rate"`
	MaxP95LatencyMs    float64 `yaml:"max_p95_latency_ms" json:"max_p95_latency_ms"`

	MinTestDurationHours float64 `yaml:"min_test_duration_hours" json:"min_test_duration_hours"`
	MaxTestDurationHours float64 `yaml:"max_test_duration_hours" json:"max_test_duration_hours"`

	MaxRecentIncidents int           `yaml:"max_recent_incidents" json:"max_recent_incidents"`
	IncidentLookback   time.Duration `yaml:"incident_lookback" json:"incident_lookback"`

	RequireManualApproval bool     `yaml:"require_manual_approval" json:"require_manual_approval"`
	ExcludedExperiments   []string `yaml:"excluded_experiments" json:"excluded_experiments"`

	// DisabledChecks lists check names to skip. Skipped checks still appear
	// in the result list, marked as passed with an informational message.
	DisabledChecks []string `yaml:"disabled_checks" json:"disabled_checks"`
}

// ConservativeRules is the default preset: large samples, high confidence,
// human approval required.
func ConservativeRules() PromotionRules {
	return PromotionRules{
		Name:                  "conservative",
		MinSampleSize:         1000,
		MinConfidenceLevel:    95,
		MinImprovement:        0.02,
		MaxErrorRate:          0.05,
		MaxP95LatencyMs:       2000,
		MinTestDurationHours:  24,
		MaxTestDurationHours:  24 * 30,
		MaxRecentIncidents:    0,
		IncidentLookback:      24 * time.Hour,
		RequireManualApproval: true,
	}
}

// AggressiveRules trades certainty for speed; intended for low-risk
// experiments that iterate quickly.
func AggressiveRules() PromotionRules {
	return PromotionRules{
		Name:                  "aggressive",
		MinSampleSize:         300,
		MinConfidenceLevel:    90,
		MinImprovement:        0.01,
		MaxErrorRate:          0.10,
		MaxP95LatencyMs:       5000,
		MinTestDurationHours:  6,
		MaxTestDurationHours:  24 * 14,
		MaxRecentIncidents:    2,
		IncidentLookback:      24 * time.Hour,
		RequireManualApproval: false,
	}
}

// CheckDisabled reports whether the named check is switched off.
func (r PromotionRules) CheckDisabled(name string) bool {
	for _, c := range r.DisabledChecks {
		if c == name {
			return true
		}
	}
	return false
}

// Excluded reports whether the experiment name is on the exclusion list.
func (r PromotionRules) Excluded(experimentName string) bool {
	for _, name := range r.ExcludedExperiments {
		if name == experimentName {
			return true
		}
	}
	return false
}

// Validate returns every violation, not only the first, so malformed rule
// sets are rejected with a complete picture before any mutation.
func (r PromotionRules) Validate() []error {
	var violations []error
	if r.MinSampleSize <= 0 {
		violations = append(violations, fmt.Errorf("min_sample_size must be > 0, got %d", r.MinSampleSize))
	}
	if r.MinConfidenceLevel < 0 || r.MinConfidenceLevel > 100 {
		violations = append(violations, fmt.Errorf("min_confidence_level must be within [0, 100], got %g", r.MinConfidenceLevel))
	}
	if r.MinImprovement < 0 {
		violations = append(violations, fmt.Errorf("min_improvement must be >= 0, got %g", r.MinImprovement))
	}
	if r.MaxErrorRate < 0 || r.MaxErrorRate > 1 {
		violations = append(violations, fmt.Errorf("max_error_rate must be within [0, 1], got %g", r.MaxErrorRate))
	}
	if r.MaxP95LatencyMs <= 0 {
		violations = append(violations, fmt.Errorf("max_p95_latency_ms must be > 0, got %g", r.MaxP95LatencyMs))
	}
	if r.MinTestDurationHours < 0 {
		violations = append(violations, fmt.Errorf("min_test_duration_hours must be >= 0, got %g", r.MinTestDurationHours))
	}
	if r.MaxTestDurationHours > 0 && r.MaxTestDurationHours < r.MinTestDurationHours {
		violations = append(violations, fmt.Errorf("max_test_duration_hours (%g) must be >= min_test_duration_hours (%g)", r.MaxTestDurationHours, r.MinTestDurationHours))
	}
	if r.MaxRecentIncidents < 0 {
		violations = append(violations, fmt.Errorf("max_recent_incidents must be >= 0, got %d", r.MaxRecentIncidents))
	}
	if r.IncidentLookback <= 0 {
		violations = append(violations, fmt.Errorf("incident_lookback must be > 0, got %s", r.IncidentLookback))
	}
	return violations
}
