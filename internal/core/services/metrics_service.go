package services

import (
	"context"
	"fmt"
	"time"

	"autopromo/internal/core/domain"
	"autopromo/internal/core/ports"
	"autopromo/pkg/stats"

	"go.uber.org/zap"
)

// MetricsService derives per-variant statistics from raw request events.
// Read-only: data-source errors always propagate, because a silent
// zero-result could wrongly unlock a promotion.
type MetricsService struct {
	events       ports.EventStore
	logger       *zap.SugaredLogger
	queryTimeout time.Duration
}

// NewMetricsService creates a metrics aggregation service.
func NewMetricsService(events ports.EventStore, logger *zap.SugaredLogger, queryTimeout time.Duration) *MetricsService {
	return &MetricsService{
		events:       events,
		logger:       logger,
		queryTimeout: queryTimeout,
	}
}

// ForVariant computes metrics for a single variant over the window. A
// zero-request window yields zeroed metrics, not an error.
func (s *MetricsService) ForVariant(ctx context.Context, variant domain.Variant, window domain.TimeWindow) (domain.VariantMetrics, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	events, err := s.events.ListEvents(queryCtx, variant.ID, window)
	if err != nil {
		return domain.VariantMetrics{}, fmt.Errorf("failed to list events for variant %s: %w", variant.ID, err)
	}

	return buildVariantMetrics(variant, events, window), nil
}

// ForExperiment computes metrics for every variant of the experiment and
// fills in observed traffic shares across the whole experiment.
func (s *MetricsService) ForExperiment(ctx context.Context, exp *domain.Experiment, window domain.TimeWindow) ([]domain.VariantMetrics, error) {
	metrics := make([]domain.VariantMetrics, 0, len(exp.Variants))

	var totalRequests int64
	for _, variant := range exp.Variants {
		m, err := s.ForVariant(ctx, variant, window)
		if err != nil {
			return nil, err
		}
		totalRequests += m.TotalRequests
		metrics = append(metrics, m)
	}

	if totalRequests > 0 {
		for i := range metrics {
			metrics[i].TrafficShare = float64(metrics[i].TotalRequests) / float64(totalRequests)
		}
	}

	s.logger.Debugw("aggregated experiment metrics",
		"experiment_id", exp.ID,
		"variants", len(metrics),
		"total_requests", totalRequests,
	)

	return metrics, nil
}

func buildVariantMetrics(variant domain.Variant, events []domain.RequestEvent, window domain.TimeWindow) domain.VariantMetrics {
	m := domain.VariantMetrics{
		VariantID:   variant.ID,
		VariantName: variant.Name,
		Window:      window,
	}

	if len(events) == 0 {
		return m
	}

	users := make(map[string]struct{})
	latencies := make([]float64, 0, len(events))

	for _, ev := range events {
		m.TotalRequests++
		if ev.UserID != "" {
			users[ev.UserID] = struct{}{}
		}
		if ev.Failed {
			m.ErrorCount++
		}
		latencies = append(latencies, ev.LatencyMs)
	}

	m.UniqueUsers = int64(len(users))
	m.SampleSize = m.TotalRequests
	m.ErrorRate = float64(m.ErrorCount) / float64(m.TotalRequests)
	m.SuccessRate = 1 - m.ErrorRate

	p := stats.CalculatePercentiles(latencies)
	m.AvgLatencyMs = p.Mean
	m.P50LatencyMs = p.P50
	m.P95LatencyMs = p.P95
	m.P99LatencyMs = p.P99

	return m
}
