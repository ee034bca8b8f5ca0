package stats

import "math"

// SignificanceThreshold is the z value for the 95% two-sided test; below
// it no significance claim is made.
const SignificanceThreshold = 1.96

// TwoProportionZ computes the pooled two-proportion z statistic for
// success rates p1 (n1 observations) and p2 (n2 observations). Returns 0
// when the standard error degenerates (identical or empty proportions).
func TwoProportionZ(p1 float64, n1 int64, p2 float64, n2 int64) float64 {
	if n1 <= 0 || n2 <= 0 {
		return 0
	}

	fn1, fn2 := float64(n1), float64(n2)
	pooled := (p1*fn1 + p2*fn2) / (fn1 + fn2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/fn1 + 1/fn2))
	if se == 0 {
		return 0
	}

	return math.Abs(p1-p2) / se
}

// ConfidenceLevel maps a z statistic to a discrete confidence percentage.
// The 90% breakpoint exists for reporting only; significance itself is
// gated on SignificanceThreshold.
func ConfidenceLevel(z float64) float64 {
	switch {
	case z >= 3.29:
		return 99.9
	case z >= 2.58:
		return 99.0
	case z >= SignificanceThreshold:
		return 95.0
	case z >= 1.645:
		return 90.0
	default:
		return 0
	}
}
