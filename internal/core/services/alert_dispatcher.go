package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autopromo/internal/core/domain"
	"autopromo/internal/core/ports"
	"autopromo/pkg/circuitbreaker"
	"autopromo/pkg/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertDispatcherService fans alerts out to subscribed operators. Each
// (alert, subscriber) delivery is an independent attempt: one failure
// never blocks the others.
type AlertDispatcherService struct {
	registry ports.SubscriberRegistry
	gateway  ports.NotificationGateway
	alertLog ports.AlertLog
	recorder ports.ScanRecorder
	logger   *zap.SugaredLogger

	breaker         *circuitbreaker.CircuitBreaker
	retryCfg        retry.Config
	deliveryTimeout time.Duration
}

// NewAlertDispatcher creates an alert dispatcher. retryAttempts bounds
// redelivery per notification; deliveryTimeout bounds each attempt.
func NewAlertDispatcher(
	registry ports.SubscriberRegistry,
	gateway ports.NotificationGateway,
	alertLog ports.AlertLog,
	recorder ports.ScanRecorder,
	logger *zap.SugaredLogger,
	retryAttempts int,
	deliveryTimeout time.Duration,
) *AlertDispatcherService {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = retryAttempts

	return &AlertDispatcherService{
		registry:        registry,
		gateway:         gateway,
		alertLog:        alertLog,
		recorder:        recorder,
		logger:          logger,
		breaker:         circuitbreaker.New(circuitbreaker.DefaultConfig()),
		retryCfg:        retryCfg,
		deliveryTimeout: deliveryTimeout,
	}
}

// Dispatch filters alerts by minimum severity, resolves subscribers and
// delivers one notification per (alert, subscriber) pair concurrently.
func (s *AlertDispatcherService) Dispatch(ctx context.Context, alerts []domain.Alert, minLevel domain.Severity) (*domain.DispatchReport, error) {
	filtered := make([]domain.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Level.AtLeast(minLevel) {
			filtered = append(filtered, a)
		}
	}

	report := &domain.DispatchReport{}
	if len(filtered) == 0 {
		return report, nil
	}

	subscribers, err := s.registry.ListSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}

	// The alert log backs the recent-incident safety check, so alerts are
	// recorded even when no subscriber wants them.
	for _, a := range filtered {
		if err := s.alertLog.Record(ctx, a); err != nil {
			s.logger.Warnw("failed to record alert", "alert_id", a.ID, "error", err)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, alert := range filtered {
		for _, sub := range subscribers {
			if !sub.WantsAlert(alert) {
				continue
			}

			wg.Add(1)
			go func(alert domain.Alert, sub domain.Subscriber) {
				defer wg.Done()

				err := s.deliver(ctx, alert, sub)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Failed++
					report.Errors = append(report.Errors, fmt.Sprintf("subscriber %s: %v", sub.ID, err))
				} else {
					report.Sent++
				}
			}(alert, sub)
		}
	}

	wg.Wait()

	if s.recorder != nil {
		s.recorder.AlertsDispatched(report.Sent, report.Failed)
	}
	s.logger.Debugw("dispatched alerts",
		"alerts", len(filtered),
		"sent", report.Sent,
		"failed", report.Failed,
	)

	return report, nil
}

func (s *AlertDispatcherService) deliver(ctx context.Context, alert domain.Alert, sub domain.Subscriber) error {
	notification := domain.Notification{
		Recipient: sub.Channel,
		Severity:  alert.Level,
		Title:     fmt.Sprintf("[%s] %s", alert.Level, alert.Type),
		Message:   alert.Message,
		Metadata: map[string]string{
			"alert_id":   alert.ID,
			"experiment": alert.Experiment,
			"variant":    alert.Variant,
			"metric":     alert.Metric,
		},
	}

	return retry.Do(ctx, s.retryCfg, func() error {
		return s.breaker.Execute(ctx, func() error {
			sendCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
			defer cancel()
			return s.gateway.Send(sendCtx, notification)
		})
	})
}

// AlertsFromChecks converts failed safety checks into alerts, one per
// failed check, typed by the check name.
func AlertsFromChecks(experimentName, variantName string, checks []domain.SafetyCheckResult, at time.Time) []domain.Alert {
	var alerts []domain.Alert
	for _, c := range checks {
		if c.Passed {
			continue
		}
		alerts = append(alerts, domain.Alert{
			ID:         uuid.NewString(),
			Level:      c.Severity,
			Type:       c.Name,
			Message:    c.Message,
			Experiment: experimentName,
			Variant:    variantName,
			Metric:     c.Name,
			Value:      c.Value,
			Threshold:  c.Threshold,
			Timestamp:  at,
		})
	}
	return alerts
}

func promotionAlert(record *domain.PromotionAuditRecord) domain.Alert {
	return domain.Alert{
		ID:    uuid.NewString(),
		Level: domain.SeverityInfo,
		Type:  domain.AlertTypePromotion,
		Message: fmt.Sprintf("variant %q promoted to 100%% traffic in experiment %q (confidence %.1f%%)",
			record.VariantName, record.ExperimentName, record.Confidence),
		Experiment: record.ExperimentName,
		Variant:    record.VariantName,
		Timestamp:  record.PromotedAt,
	}
}

func rollbackAlert(record *domain.PromotionAuditRecord) domain.Alert {
	return domain.Alert{
		ID:    uuid.NewString(),
		Level: domain.SeverityWarning,
		Type:  domain.AlertTypeRollback,
		Message: fmt.Sprintf("promotion of variant %q in experiment %q rolled back: %s",
			record.VariantName, record.ExperimentName, record.Reason),
		Experiment: record.ExperimentName,
		Variant:    record.VariantName,
		Timestamp:  record.PromotedAt,
	}
}
