package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autopromo/internal/core/domain"
)

// stubAlertLog returns a canned incident count and remembers recorded
// alerts.
type stubAlertLog struct {
	mu            sync.Mutex
	criticalCount int
	err           error
	recorded      []domain.Alert
}

func (l *stubAlertLog) Record(ctx context.Context, alert domain.Alert) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorded = append(l.recorded, alert)
	return nil
}

func (l *stubAlertLog) CountCritical(ctx context.Context, experimentName, variantName string, since time.Time) (int, error) {
	return l.criticalCount, l.err
}

func testExperiment(started time.Time) *domain.Experiment {
	return &domain.Experiment{
		ID:        "exp-1",
		Name:      "checkout-flow",
		Active:    true,
		StartedAt: started,
		Variants: []domain.Variant{
			{ID: "var-control", ExperimentID: "exp-1", Name: "control", TrafficPercent: 50},
			{ID: "var-a", ExperimentID: "exp-1", Name: "variant-a", TrafficPercent: 50},
		},
	}
}

// makeEvents generates count events for a variant with the given failure
// count, spread inside the trailing 24h window.
func makeEvents(exp *domain.Experiment, variant domain.Variant, count, failures int, latencyMs float64, now time.Time) []domain.RequestEvent {
	events := make([]domain.RequestEvent, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, domain.RequestEvent{
			ID:           fmt.Sprintf("%s-%d", variant.ID, i),
			ExperimentID: exp.ID,
			VariantID:    variant.ID,
			UserID:       fmt.Sprintf("user-%d", i),
			Timestamp:    now.Add(-time.Duration(i%120) * time.Minute),
			LatencyMs:    latencyMs,
			Failed:       i < failures,
		})
	}
	return events
}

func passingRules() domain.PromotionRules {
	rules := domain.ConservativeRules()
	rules.RequireManualApproval = false
	return rules
}

func healthyInput(rules domain.PromotionRules) SafetyInput {
	exp := testExperiment(time.Now().Add(-48 * time.Hour))
	winner := variantMetrics("variant-a", 0.85, 1500)
	winner.P95LatencyMs = 300
	winner.TrafficShare = 0.5
	control := variantMetrics("control", 0.80, 1500)
	control.P95LatencyMs = 320

	return SafetyInput{
		Experiment: exp,
		Winner:     winner,
		Control:    control,
		Confidence: 99.9,
		Elapsed:    48 * time.Hour,
	}
}
