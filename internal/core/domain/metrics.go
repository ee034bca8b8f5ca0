package domain

import "time"

// RequestEvent is one raw request/response observation attributed to a
// variant. The engine only ever reads these.
type RequestEvent struct {
	ID           string
	ExperimentID ExperimentID
	VariantID    VariantID
	UserID       string
	Timestamp    time.Time
	LatencyMs    float64
	Failed       bool
}

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// DefaultWindowHours is the trailing window used when the caller does not
// supply one.
const DefaultWindowHours = 24

// DefaultWindow returns the trailing 24h window ending at now.
func DefaultWindow(now time.Time) TimeWindow {
	return TimeWindow{Start: now.Add(-DefaultWindowHours * time.Hour), End: now}
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// VariantMetrics is derived on demand from raw events; it is never stored.
type VariantMetrics struct {
	VariantID   VariantID
	VariantName string

	TotalRequests int64
	UniqueUsers   int64
	TrafficShare  float64 // observed fraction of experiment traffic, 0..1

	AvgLatencyMs float64
	P50LatencyMs float64
	P95LatencyMs float64
	P99LatencyMs float64

	ErrorCount  int64
	ErrorRate   float64
	SuccessRate float64

	SampleSize int64
	Window     TimeWindow
}
