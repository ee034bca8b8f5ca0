package validation

import (
	"fmt"
	"math"
	"strings"
)

// TrafficSumTolerance absorbs floating point error when checking that a
// redistribution sums to 100.
const TrafficSumTolerance = 1e-6

// ValidateTrafficSplit checks a variant-name -> percentage redistribution
// against the known variant names. Every violation is returned, not just
// the first, so the caller can reject the split with a complete picture.
func ValidateTrafficSplit(split map[string]float64, knownVariants []string) []error {
	var violations []error

	if len(split) == 0 {
		return []error{fmt.Errorf("traffic split must not be empty")}
	}

	known := make(map[string]bool, len(knownVariants))
	for _, name := range knownVariants {
		known[name] = true
	}

	sum := 0.0
	for name, pct := range split {
		if !known[name] {
			violations = append(violations, fmt.Errorf("unknown variant %q", name))
		}
		if pct < 0 || pct > 100 {
			violations = append(violations, fmt.Errorf("variant %q percentage must be within [0, 100], got %g", name, pct))
		}
		sum += pct
	}

	if math.Abs(sum-100) > TrafficSumTolerance {
		violations = append(violations, fmt.Errorf("traffic percentages must sum to 100, got %g", sum))
	}

	return violations
}

// ValidateExperimentName validates an experiment name for lookups.
func ValidateExperimentName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("experiment name is required")
	}
	if len(name) > 200 {
		return fmt.Errorf("experiment name is too long (max 200 characters)")
	}
	return nil
}

// ValidateReason validates a human-supplied reason for manual actions.
func ValidateReason(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("reason is required")
	}
	if len(reason) > 1000 {
		return fmt.Errorf("reason is too long (max 1000 characters)")
	}
	return nil
}
