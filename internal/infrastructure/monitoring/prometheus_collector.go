package monitoring

import (
	"autopromo/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements the scan recorder port. A nil collector
// is valid everywhere it is consumed and records nothing.
type PrometheusCollector struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationFailures prometheus.Counter
	promotionsTotal    *prometheus.CounterVec
	rollbacksTotal     prometheus.Counter
	alertsSentTotal    prometheus.Counter
	alertsFailedTotal  prometheus.Counter
	scanDuration       prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		evaluationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "autopromo_evaluations_total",
			Help: "Total number of eligibility evaluations by recommendation",
		}, []string{"recommendation"}),

		evaluationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "autopromo_evaluation_failures_total",
			Help: "Total number of failed eligibility evaluations",
		}),

		promotionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "autopromo_promotions_total",
			Help: "Total number of executed promotions by trigger",
		}, []string{"trigger"}),

		rollbacksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "autopromo_rollbacks_total",
			Help: "Total number of executed rollbacks",
		}),

		alertsSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "autopromo_alerts_sent_total",
			Help: "Total number of alert notifications delivered",
		}),

		alertsFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "autopromo_alerts_failed_total",
			Help: "Total number of alert notification delivery failures",
		}),

		scanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "autopromo_scan_duration_seconds",
			Help:    "Duration of scheduler scans over all active experiments",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

func (p *PrometheusCollector) EvaluationCompleted(recommendation domain.Recommendation) {
	p.evaluationsTotal.WithLabelValues(string(recommendation)).Inc()
}

func (p *PrometheusCollector) EvaluationFailed() {
	p.evaluationFailures.Inc()
}

func (p *PrometheusCollector) PromotionExecuted(trigger domain.PromotionTrigger) {
	p.promotionsTotal.WithLabelValues(string(trigger)).Inc()
}

func (p *PrometheusCollector) RollbackExecuted() {
	p.rollbacksTotal.Inc()
}

func (p *PrometheusCollector) AlertsDispatched(sent, failed int) {
	p.alertsSentTotal.Add(float64(sent))
	p.alertsFailedTotal.Add(float64(failed))
}

func (p *PrometheusCollector) ScanCompleted(seconds float64) {
	p.scanDuration.Observe(seconds)
}
