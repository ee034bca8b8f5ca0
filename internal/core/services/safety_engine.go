package services

import (
	"context"
	"fmt"
	"time"

	"autopromo/internal/core/domain"
	"autopromo/internal/core/ports"

	"go.uber.org/zap"
)

// Fixed engineering tolerances for the relative-degradation checks. These
// are deliberately not part of the configurable rule set.
const (
	ErrorRateDegradationTolerance = 0.10
	LatencyDegradationTolerance   = 0.20
	TrafficImbalanceTolerance     = 0.50
)

// SafetyInput carries everything one check run needs.
type SafetyInput struct {
	Experiment *domain.Experiment
	Winner     domain.VariantMetrics
	Control    domain.VariantMetrics
	Confidence float64
	Elapsed    time.Duration
}

// SafetyEngine runs the full battery of guard conditions. Every check
// always runs; none are skipped by earlier failures, so the complete
// picture is available for audit and operator review.
type SafetyEngine struct {
	alerts ports.AlertLog
	logger *zap.SugaredLogger
}

// NewSafetyEngine creates a safety check engine.
func NewSafetyEngine(alerts ports.AlertLog, logger *zap.SugaredLogger) *SafetyEngine {
	return &SafetyEngine{alerts: alerts, logger: logger}
}

// RunChecks produces the exhaustive, ordered check list. Only the
// recent-incident lookup can fail; its data-source errors propagate.
func (e *SafetyEngine) RunChecks(ctx context.Context, in SafetyInput, rules domain.PromotionRules) ([]domain.SafetyCheckResult, error) {
	incidents, err := e.recentIncidents(ctx, in, rules)
	if err != nil {
		return nil, err
	}

	checks := []domain.SafetyCheckResult{
		e.checkExclusionList(in, rules),
		e.checkSampleSize(domain.CheckWinnerSampleSize, in.Winner, rules),
		e.checkSampleSize(domain.CheckControlSampleSize, in.Control, rules),
		e.checkConfidence(in, rules),
		e.checkImprovement(in, rules),
		e.checkWinnerErrorRate(in, rules),
		e.checkErrorRateDegradation(in, rules),
		e.checkWinnerP95Latency(in, rules),
		e.checkLatencyDegradation(in, rules),
		e.checkMinDuration(in, rules),
		e.checkMaxDuration(in, rules),
		e.checkTrafficBalance(in, rules),
		incidents,
		e.checkManualApproval(rules),
	}

	return checks, nil
}

func disabled(name string, severity domain.Severity) domain.SafetyCheckResult {
	return domain.SafetyCheckResult{
		Name:     name,
		Passed:   true,
		Message:  "disabled by rule set",
		Severity: severity,
	}
}

func (e *SafetyEngine) checkExclusionList(in SafetyInput, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckExclusionList) {
		return disabled(domain.CheckExclusionList, domain.SeverityCritical)
	}

	excluded := rules.Excluded(in.Experiment.Name)
	msg := "experiment is not on the exclusion list"
	if excluded {
		msg = fmt.Sprintf("experiment %q is excluded from auto-promotion", in.Experiment.Name)
	}
	return domain.SafetyCheckResult{
		Name:     domain.CheckExclusionList,
		Passed:   !excluded,
		Message:  msg,
		Severity: domain.SeverityCritical,
	}
}

func (e *SafetyEngine) checkSampleSize(name string, m domain.VariantMetrics, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(name) {
		return disabled(name, domain.SeverityCritical)
	}

	passed := m.SampleSize >= rules.MinSampleSize
	return domain.SafetyCheckResult{
		Name:      name,
		Passed:    passed,
		Message:   fmt.Sprintf("%s has %d samples, minimum is %d", m.VariantName, m.SampleSize, rules.MinSampleSize),
		Severity:  domain.SeverityCritical,
		Value:     float64(m.SampleSize),
		Threshold: float64(rules.MinSampleSize),
	}
}

func (e *SafetyEngine) checkConfidence(in SafetyInput, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckConfidenceLevel) {
		return disabled(domain.CheckConfidenceLevel, domain.SeverityCritical)
	}

	passed := in.Confidence >= rules.MinConfidenceLevel
	return domain.SafetyCheckResult{
		Name:      domain.CheckConfidenceLevel,
		Passed:    passed,
		Message:   fmt.Sprintf("confidence is %.1f%%, minimum is %.1f%%", in.Confidence, rules.MinConfidenceLevel),
		Severity:  domain.SeverityCritical,
		Value:     in.Confidence,
		Threshold: rules.MinConfidenceLevel,
	}
}

func (e *SafetyEngine) checkImprovement(in SafetyInput, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckImprovement) {
		return disabled(domain.CheckImprovement, domain.SeverityWarning)
	}

	improvement := RelativeImprovement(in.Winner.SuccessRate, in.Control.SuccessRate)
	passed := improvement >= rules.MinImprovement
	return domain.SafetyCheckResult{
		Name:      domain.CheckImprovement,
		Passed:    passed,
		Message:   fmt.Sprintf("relative improvement is %.2f%%, minimum is %.2f%%", improvement*100, rules.MinImprovement*100),
		Severity:  domain.SeverityWarning,
		Value:     improvement,
		Threshold: rules.MinImprovement,
	}
}

func (e *SafetyEngine) checkWinnerErrorRate(in SafetyInput, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckWinnerErrorRate) {
		return disabled(domain.CheckWinnerErrorRate, domain.SeverityCritical)
	}

	passed := in.Winner.ErrorRate <= rules.MaxErrorRate
	return domain.SafetyCheckResult{
		Name:      domain.CheckWinnerErrorRate,
		Passed:    passed,
		Message:   fmt.Sprintf("winner error rate is %.4f, maximum is %.4f", in.Winner.ErrorRate, rules.MaxErrorRate),
		Severity:  domain.SeverityCritical,
		Value:     in.Winner.ErrorRate,
		Threshold: rules.MaxErrorRate,
	}
}

func (e *SafetyEngine) checkErrorRateDegradation(in SafetyInput, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckErrorRateDegradation) {
		return disabled(domain.CheckErrorRateDegradation, domain.SeverityCritical)
	}

	// Guards against promoting a variant that wins on a soft metric while
	// quietly degrading reliability.
	limit := in.Control.ErrorRate * (1 + ErrorRateDegradationTolerance)
	passed := in.Winner.ErrorRate <= limit
	return domain.SafetyCheckResult{
		Name:      domain.CheckErrorRateDegradation,
		Passed:    passed,
		Message:   fmt.Sprintf("winner error rate is %.4f, control allows up to %.4f", in.Winner.ErrorRate, limit),
		Severity:  domain.SeverityCritical,
		Value:     in.Winner.ErrorRate,
		Threshold: limit,
	}
}

func (e *SafetyEngine) checkWinnerP95Latency(in SafetyInput, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckWinnerP95Latency) {
		return disabled(domain.CheckWinnerP95Latency, domain.SeverityWarning)
	}

	passed := in.Winner.P95LatencyMs <= rules.MaxP95LatencyMs
	return domain.SafetyCheckResult{
		Name:      domain.CheckWinnerP95Latency,
		Passed:    passed,
		Message:   fmt.Sprintf("winner p95 latency is %.1fms, maximum is %.1fms", in.Winner.P95LatencyMs, rules.MaxP95LatencyMs),
		Severity:  domain.SeverityWarning,
		Value:     in.Winner.P95LatencyMs,
		Threshold: rules.MaxP95LatencyMs,
	}
}

func (e *SafetyEngine) checkLatencyDegradation(in SafetyInput, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckLatencyDegradation) {
		return disabled(domain.CheckLatencyDegradation, domain.SeverityWarning)
	}

	limit := in.Control.P95LatencyMs * (1 + LatencyDegradationTolerance)
	passed := in.Winner.P95LatencyMs <= limit
	return domain.SafetyCheckResult{
		Name:      domain.CheckLatencyDegradation,
		Passed:    passed,
		Message:   fmt.Sprintf("winner p95 latency is %.1fms, control allows up to %.1fms", in.Winner.P95LatencyMs, limit),
		Severity:  domain.SeverityWarning,
		Value:     in.Winner.P95LatencyMs,
		Threshold: limit,
	}
}

func (e *SafetyEngine) checkMinDuration(in SafetyInput, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckMinTestDuration) {
		return disabled(domain.CheckMinTestDuration, domain.SeverityCritical)
	}

	hours := in.Elapsed.Hours()
	passed := hours >= rules.MinTestDurationHours
	return domain.SafetyCheckResult{
		Name:      domain.CheckMinTestDuration,
		Passed:    passed,
		Message:   fmt.Sprintf("experiment has run %.1fh, minimum is %.1fh", hours, rules.MinTestDurationHours),
		Severity:  domain.SeverityCritical,
		Value:     hours,
		Threshold: rules.MinTestDurationHours,
	}
}

func (e *SafetyEngine) checkMaxDuration(in SafetyInput, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckMaxTestDuration) {
		return disabled(domain.CheckMaxTestDuration, domain.SeverityWarning)
	}

	hours := in.Elapsed.Hours()
	passed := rules.MaxTestDurationHours <= 0 || hours <= rules.MaxTestDurationHours
	return domain.SafetyCheckResult{
		Name:      domain.CheckMaxTestDuration,
		Passed:    passed,
		Message:   fmt.Sprintf("experiment has run %.1fh, maximum is %.1fh", hours, rules.MaxTestDurationHours),
		Severity:  domain.SeverityWarning,
		Value:     hours,
		Threshold: rules.MaxTestDurationHours,
	}
}

func (e *SafetyEngine) checkTrafficBalance(in SafetyInput, rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckTrafficBalance) {
		return disabled(domain.CheckTrafficBalance, domain.SeverityWarning)
	}

	// Detects broken bucketing: observed traffic share drifting far from
	// the configured allocation.
	var configured float64
	if v := in.Experiment.VariantByName(in.Winner.VariantName); v != nil {
		configured = v.TrafficPercent / 100
	}

	result := domain.SafetyCheckResult{
		Name:      domain.CheckTrafficBalance,
		Severity:  domain.SeverityWarning,
		Value:     in.Winner.TrafficShare,
		Threshold: TrafficImbalanceTolerance,
	}

	if configured == 0 {
		result.Passed = true
		result.Message = "winner has no configured traffic allocation to compare against"
		return result
	}

	deviation := (in.Winner.TrafficShare - configured) / configured
	if deviation < 0 {
		deviation = -deviation
	}
	result.Passed = deviation <= TrafficImbalanceTolerance
	result.Message = fmt.Sprintf("observed traffic share %.2f deviates %.0f%% from configured %.2f, tolerance is %.0f%%",
		in.Winner.TrafficShare, deviation*100, configured, TrafficImbalanceTolerance*100)
	return result
}

func (e *SafetyEngine) recentIncidents(ctx context.Context, in SafetyInput, rules domain.PromotionRules) (domain.SafetyCheckResult, error) {
	if rules.CheckDisabled(domain.CheckRecentIncidents) {
		return disabled(domain.CheckRecentIncidents, domain.SeverityCritical), nil
	}

	lookback := rules.IncidentLookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}

	since := time.Now().Add(-lookback)
	count, err := e.alerts.CountCritical(ctx, in.Experiment.Name, in.Winner.VariantName, since)
	if err != nil {
		return domain.SafetyCheckResult{}, fmt.Errorf("failed to count recent incidents: %w", err)
	}

	passed := count <= rules.MaxRecentIncidents
	return domain.SafetyCheckResult{
		Name:      domain.CheckRecentIncidents,
		Passed:    passed,
		Message:   fmt.Sprintf("%d critical alerts in the last %s, maximum is %d", count, lookback, rules.MaxRecentIncidents),
		Severity:  domain.SeverityCritical,
		Value:     float64(count),
		Threshold: float64(rules.MaxRecentIncidents),
	}, nil
}

func (e *SafetyEngine) checkManualApproval(rules domain.PromotionRules) domain.SafetyCheckResult {
	if rules.CheckDisabled(domain.CheckManualApproval) {
		return disabled(domain.CheckManualApproval, domain.SeverityInfo)
	}

	msg := "no manual approval required"
	if rules.RequireManualApproval {
		msg = "rule set requires manual approval before promotion"
	}
	return domain.SafetyCheckResult{
		Name:     domain.CheckManualApproval,
		Passed:   !rules.RequireManualApproval,
		Message:  msg,
		Severity: domain.SeverityInfo,
	}
}
