package domain

import (
	"time"
)

type ExperimentID string
type VariantID string
type AuditRecordID string

// Experiment is one A/B experiment with 1..N variants. Experiments are
// never deleted; they become inactive when ended or fully promoted.
type Experiment struct {
	ID        ExperimentID
	Name      string
	Active    bool
	StartedAt time.Time
	EndedAt   *time.Time
	Variants  []Variant
}

// Variant is one arm of an experiment. TrafficPercent is the only field
// mutated after creation, and only by the promotion and rollback paths.
type Variant struct {
	ID             VariantID
	ExperimentID   ExperimentID
	Name           string
	TrafficPercent float64
	Config         map[string]string
	CreatedAt      time.Time
}

// ControlVariantName is the conventional name of the baseline variant.
const ControlVariantName = "control"

// Control returns the variant named "control", or nil if absent.
func (e *Experiment) Control() *Variant {
	for i := range e.Variants {
		if e.Variants[i].Name == ControlVariantName {
			return &e.Variants[i]
		}
	}
	return nil
}

// VariantByName returns the named variant, or nil if absent.
func (e *Experiment) VariantByName(name string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].Name == name {
			return &e.Variants[i]
		}
	}
	return nil
}

// LeadingVariant returns the variant currently holding the largest traffic
// share. Ties resolve to the earliest variant in declaration order.
func (e *Experiment) LeadingVariant() *Variant {
	if len(e.Variants) == 0 {
		return nil
	}
	leading := &e.Variants[0]
	for i := range e.Variants {
		if e.Variants[i].TrafficPercent > leading.TrafficPercent {
			leading = &e.Variants[i]
		}
	}
	return leading
}

// SelectVariant maps a traffic bucket in [0, 100) onto a variant. When the
// configured percentages do not sum to 100 the last variant absorbs the
// remainder; that fallback is deliberate and must not be treated as an
// error.
func (e *Experiment) SelectVariant(bucket float64) *Variant {
	if len(e.Variants) == 0 {
		return nil
	}
	cumulative := 0.0
	for i := range e.Variants {
		cumulative += e.Variants[i].TrafficPercent
		if bucket < cumulative {
			return &e.Variants[i]
		}
	}
	return &e.Variants[len(e.Variants)-1]
}

// Elapsed reports how long the experiment has been running as of now.
func (e *Experiment) Elapsed(now time.Time) time.Duration {
	if e.EndedAt != nil {
		return e.EndedAt.Sub(e.StartedAt)
	}
	return now.Sub(e.StartedAt)
}
