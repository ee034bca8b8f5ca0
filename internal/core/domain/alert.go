package domain

import "time"

// Alert is generated per evaluation and is not durable engine state; the
// notification subsystem may persist deliveries for its own bookkeeping.
type Alert struct {
	ID         string    `json:"id"`
	Level      Severity  `json:"level"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	Experiment string    `json:"experiment,omitempty"`
	Variant    string    `json:"variant,omitempty"`
	Metric     string    `json:"metric,omitempty"`
	Value      float64   `json:"value,omitempty"`
	Threshold  float64   `json:"threshold,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Well-known alert types. Safety-check alerts use the check name as type.
const (
	AlertTypePromotion = "promotion"
	AlertTypeRollback  = "rollback"
)

// Subscriber is an operator who receives alert notifications. An empty
// Experiments list subscribes to every experiment.
type Subscriber struct {
	ID          string
	Name        string
	Channel     string // opaque recipient address understood by the gateway
	MinLevel    Severity
	Experiments []string
}

// WantsAlert reports whether the subscriber should receive the alert.
func (s Subscriber) WantsAlert(a Alert) bool {
	if !a.Level.AtLeast(s.MinLevel) {
		return false
	}
	if len(s.Experiments) == 0 || a.Experiment == "" {
		return len(s.Experiments) == 0
	}
	for _, name := range s.Experiments {
		if name == a.Experiment {
			return true
		}
	}
	return false
}

// Notification is the structured payload handed to the gateway. The engine
// does not know or care about email/chat/pager specifics.
type Notification struct {
	Recipient string
	Severity  Severity
	Title     string
	Message   string
	Metadata  map[string]string
}

// DispatchReport summarizes one fan-out.
type DispatchReport struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}
