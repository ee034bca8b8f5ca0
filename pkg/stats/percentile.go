package stats

import (
	"math"
	"sort"
)

// Percentiles summarizes a latency distribution.
type Percentiles struct {
	Mean float64
	P50  float64
	P95  float64
	P99  float64
}

// CalculatePercentiles computes mean and p50/p95/p99 from raw samples.
// An empty input yields zeroed percentiles so that zero-request windows
// stay well-defined.
func CalculatePercentiles(samples []float64) Percentiles {
	if len(samples) == 0 {
		return Percentiles{}
	}

	values := make([]float64, len(samples))
	copy(values, samples)
	sort.Float64s(values)

	return Percentiles{
		Mean: mean(values),
		P50:  percentile(values, 50),
		P95:  percentile(values, 95),
		P99:  percentile(values, 99),
	}
}

// percentile computes the Nth percentile using linear interpolation
// between order statistics, so repeated runs over unchanged data are
// bit-for-bit reproducible.
func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if len(sortedValues) == 1 {
		return sortedValues[0]
	}

	n := float64(len(sortedValues))
	rank := (p / 100.0) * (n - 1)

	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sortedValues[lower]
	}

	fraction := rank - float64(lower)
	return sortedValues[lower] + (sortedValues[upper]-sortedValues[lower])*fraction
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
