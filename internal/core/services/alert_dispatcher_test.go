package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"autopromo/internal/core/domain"
	"autopromo/internal/infrastructure/notifications"

	"go.uber.org/zap/zaptest"
)

func newTestDispatcher(t *testing.T, gateway *notifications.MemoryGateway, alertLog *stubAlertLog, subs ...domain.Subscriber) *AlertDispatcherService {
	t.Helper()
	if alertLog == nil {
		alertLog = &stubAlertLog{}
	}
	return NewAlertDispatcher(
		notifications.NewStaticRegistry(subs),
		gateway,
		alertLog,
		nil,
		zaptest.NewLogger(t).Sugar(),
		1,
		time.Second,
	)
}

func testAlert(level domain.Severity, experiment string) domain.Alert {
	return domain.Alert{
		ID:         "alert-1",
		Level:      level,
		Type:       "winner_error_rate",
		Message:    "error rate above threshold",
		Experiment: experiment,
		Timestamp:  time.Now(),
	}
}

func TestDispatch_SeverityFilter(t *testing.T) {
	gateway := notifications.NewMemoryGateway()
	alertLog := &stubAlertLog{}
	dispatcher := newTestDispatcher(t, gateway, alertLog, domain.Subscriber{
		ID: "sub-1", Channel: "ops", MinLevel: domain.SeverityInfo,
	})

	report, err := dispatcher.Dispatch(context.Background(),
		[]domain.Alert{testAlert(domain.SeverityInfo, "checkout-flow")},
		domain.SeverityWarning,
	)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.Sent != 0 || report.Failed != 0 {
		t.Errorf("info alert below warning floor should be dropped, got %+v", report)
	}
	if len(gateway.Sent()) != 0 {
		t.Error("nothing should reach the gateway")
	}
	if len(alertLog.recorded) != 0 {
		t.Error("filtered alerts should not be logged")
	}
}

func TestDispatch_FanOut(t *testing.T) {
	gateway := notifications.NewMemoryGateway()
	dispatcher := newTestDispatcher(t, gateway, nil,
		domain.Subscriber{ID: "sub-1", Channel: "ops", MinLevel: domain.SeverityInfo},
		domain.Subscriber{ID: "sub-2", Channel: "oncall", MinLevel: domain.SeverityInfo},
	)

	report, err := dispatcher.Dispatch(context.Background(),
		[]domain.Alert{testAlert(domain.SeverityCritical, "checkout-flow")},
		domain.SeverityInfo,
	)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.Sent != 2 {
		t.Errorf("sent = %d, want 2", report.Sent)
	}

	sent := gateway.Sent()
	if len(sent) != 2 {
		t.Fatalf("gateway received %d notifications, want 2", len(sent))
	}
	if !strings.Contains(sent[0].Title, "winner_error_rate") {
		t.Errorf("title = %q, want alert type in title", sent[0].Title)
	}
}

func TestDispatch_OneFailureDoesNotBlockOthers(t *testing.T) {
	gateway := notifications.NewMemoryGateway()
	gateway.FailFor("oncall", errors.New("pager unreachable"))

	dispatcher := newTestDispatcher(t, gateway, nil,
		domain.Subscriber{ID: "sub-1", Channel: "ops", MinLevel: domain.SeverityInfo},
		domain.Subscriber{ID: "sub-2", Channel: "oncall", MinLevel: domain.SeverityInfo},
	)

	report, err := dispatcher.Dispatch(context.Background(),
		[]domain.Alert{testAlert(domain.SeverityCritical, "checkout-flow")},
		domain.SeverityInfo,
	)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.Sent != 1 || report.Failed != 1 {
		t.Errorf("report = %+v, want 1 sent / 1 failed", report)
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "sub-2") {
		t.Errorf("errors = %v, want one naming sub-2", report.Errors)
	}
	if len(gateway.Sent()) != 1 {
		t.Error("the healthy subscriber should still be delivered to")
	}
}

func TestDispatch_SubscriberExperimentFilter(t *testing.T) {
	gateway := notifications.NewMemoryGateway()
	dispatcher := newTestDispatcher(t, gateway, nil,
		domain.Subscriber{ID: "sub-1", Channel: "ops", MinLevel: domain.SeverityInfo, Experiments: []string{"other-experiment"}},
	)

	report, err := dispatcher.Dispatch(context.Background(),
		[]domain.Alert{testAlert(domain.SeverityCritical, "checkout-flow")},
		domain.SeverityInfo,
	)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.Sent != 0 {
		t.Errorf("subscriber scoped to another experiment should be skipped, sent = %d", report.Sent)
	}
}

func TestDispatch_RecordsAlertsWithoutSubscribers(t *testing.T) {
	gateway := notifications.NewMemoryGateway()
	alertLog := &stubAlertLog{}
	dispatcher := newTestDispatcher(t, gateway, alertLog)

	report, err := dispatcher.Dispatch(context.Background(),
		[]domain.Alert{testAlert(domain.SeverityCritical, "checkout-flow")},
		domain.SeverityInfo,
	)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if report.Sent != 0 {
		t.Errorf("sent = %d, want 0", report.Sent)
	}
	// The recent-incident check depends on the log entry existing.
	if len(alertLog.recorded) != 1 {
		t.Fatalf("recorded %d alerts, want 1", len(alertLog.recorded))
	}
}

func TestAlertsFromChecks(t *testing.T) {
	at := time.Now()
	checks := []domain.SafetyCheckResult{
		{Name: domain.CheckWinnerErrorRate, Passed: false, Severity: domain.SeverityCritical, Message: "over limit", Value: 0.12, Threshold: 0.05},
		{Name: domain.CheckImprovement, Passed: true, Severity: domain.SeverityWarning},
		{Name: domain.CheckWinnerP95Latency, Passed: false, Severity: domain.SeverityWarning, Message: "slow", Value: 2500, Threshold: 2000},
	}

	alerts := AlertsFromChecks("checkout-flow", "variant-a", checks, at)
	if len(alerts) != 2 {
		t.Fatalf("expected one alert per failed check, got %d", len(alerts))
	}
	if alerts[0].Type != domain.CheckWinnerErrorRate || alerts[0].Level != domain.SeverityCritical {
		t.Errorf("first alert = %+v", alerts[0])
	}
	if alerts[1].Experiment != "checkout-flow" || alerts[1].Variant != "variant-a" {
		t.Errorf("alert scope = %q/%q", alerts[1].Experiment, alerts[1].Variant)
	}
}
