package services

import (
	"sort"

	"autopromo/internal/core/domain"
	"autopromo/pkg/stats"
)

// MinSamplesForSignificance is the fixed statistical floor below which no
// significance test is attempted. It is independent of, and always at
// least as strict as, the configured minimum sample size rule.
const MinSamplesForSignificance = 100

// DetectSignificance picks the best contender by success rate and tests it
// against the baseline with a pooled two-proportion z-test. The baseline is
// the variant named "control" when present, otherwise the second-best
// contender. Pure function of its input.
func DetectSignificance(metrics []domain.VariantMetrics) domain.SignificanceResult {
	if len(metrics) < 2 {
		return domain.SignificanceResult{}
	}

	sorted := make([]domain.VariantMetrics, len(metrics))
	copy(sorted, metrics)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SuccessRate > sorted[j].SuccessRate
	})

	winner := sorted[0]
	if winner.VariantName == domain.ControlVariantName {
		// The baseline is ahead; there is nothing to promote.
		return domain.SignificanceResult{}
	}

	baseline := sorted[1]
	for _, m := range sorted {
		if m.VariantName == domain.ControlVariantName {
			baseline = m
			break
		}
	}

	result := domain.SignificanceResult{WinnerName: winner.VariantName}

	if winner.SampleSize < MinSamplesForSignificance || baseline.SampleSize < MinSamplesForSignificance {
		return result
	}

	z := stats.TwoProportionZ(winner.SuccessRate, winner.SampleSize, baseline.SuccessRate, baseline.SampleSize)
	result.ZScore = z
	result.Confidence = stats.ConfidenceLevel(z)
	result.Significant = z >= stats.SignificanceThreshold

	return result
}

// RelativeImprovement computes (winner - baseline) / baseline. A zero
// baseline with a positive winner reports full improvement rather than
// dividing by zero.
func RelativeImprovement(winnerRate, baselineRate float64) float64 {
	if baselineRate == 0 {
		if winnerRate > 0 {
			return 1
		}
		return 0
	}
	return (winnerRate - baselineRate) / baselineRate
}
