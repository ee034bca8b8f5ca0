package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"autopromo/internal/core/domain"
	"autopromo/internal/core/ports"
	"autopromo/internal/infrastructure/notifications"
	"autopromo/internal/infrastructure/repositories/memory"

	"go.uber.org/zap/zaptest"
)

type stubEligibilityService struct {
	mu        sync.Mutex
	results   map[domain.ExperimentID]*domain.PromotionEligibility
	errs      map[domain.ExperimentID]error
	evaluated []domain.ExperimentID
}

func (s *stubEligibilityService) Evaluate(ctx context.Context, id domain.ExperimentID, rules *domain.PromotionRules) (*domain.PromotionEligibility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluated = append(s.evaluated, id)
	if err, ok := s.errs[id]; ok {
		return nil, err
	}
	return s.results[id], nil
}

type stubPromotionService struct {
	mu       sync.Mutex
	promoted []domain.ExperimentID
}

func (s *stubPromotionService) Promote(ctx context.Context, id domain.ExperimentID, opts ports.PromoteOptions) (*ports.PromotionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoted = append(s.promoted, id)
	return &ports.PromotionResult{Promoted: true}, nil
}

func eligibleResult(exp *domain.Experiment) *domain.PromotionEligibility {
	return &domain.PromotionEligibility{
		Eligible:       true,
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		WinningVariant: "variant-a",
		Confidence:     99.9,
		Recommendation: domain.RecommendPromote,
		EvaluatedAt:    time.Now(),
	}
}

func notReadyResult(exp *domain.Experiment) *domain.PromotionEligibility {
	return &domain.PromotionEligibility{
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		Recommendation: domain.RecommendNotReady,
		EvaluatedAt:    time.Now(),
	}
}

func namedExperiment(id, name string, started time.Time) *domain.Experiment {
	return &domain.Experiment{
		ID:        domain.ExperimentID(id),
		Name:      name,
		Active:    true,
		StartedAt: started,
		Variants: []domain.Variant{
			{ID: domain.VariantID(id + "-control"), ExperimentID: domain.ExperimentID(id), Name: "control", TrafficPercent: 50},
			{ID: domain.VariantID(id + "-a"), ExperimentID: domain.ExperimentID(id), Name: "variant-a", TrafficPercent: 50},
		},
	}
}

type schedulerFixture struct {
	experiments *memory.MemoryExperimentRepository
	audits      *memory.MemoryAuditRepository
	eligibility *stubEligibilityService
	promotions  *stubPromotionService
	gateway     *notifications.MemoryGateway
	scheduler   *Scheduler
}

func newSchedulerFixture(t *testing.T, cfg SchedulerConfig) *schedulerFixture {
	t.Helper()

	log := zaptest.NewLogger(t).Sugar()
	experiments := memory.NewMemoryExperimentRepository()
	audits := memory.NewMemoryAuditRepository()
	eligibility := &stubEligibilityService{
		results: make(map[domain.ExperimentID]*domain.PromotionEligibility),
		errs:    make(map[domain.ExperimentID]error),
	}
	promotions := &stubPromotionService{}

	gateway := notifications.NewMemoryGateway()
	dispatcher := NewAlertDispatcher(
		notifications.NewStaticRegistry([]domain.Subscriber{
			{ID: "sub-1", Channel: "ops", MinLevel: domain.SeverityInfo},
		}),
		gateway,
		&stubAlertLog{},
		nil,
		log,
		1,
		time.Second,
	)

	scheduler := NewScheduler(cfg, experiments, audits, eligibility, promotions, dispatcher, nil, log)

	return &schedulerFixture{
		experiments: experiments,
		audits:      audits,
		eligibility: eligibility,
		promotions:  promotions,
		gateway:     gateway,
		scheduler:   scheduler,
	}
}

func defaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:                time.Minute,
		MaxConcurrentPromotions: 2,
		PromotionWindow:         time.Hour,
		PerExperimentTimeout:    5 * time.Second,
		DispatchMinLevel:        domain.SeverityInfo,
	}
}

func TestRunOnce_PromotesOldestFirstWithinQuota(t *testing.T) {
	cfg := defaultSchedulerConfig()
	cfg.MaxConcurrentPromotions = 1

	f := newSchedulerFixture(t, cfg)
	ctx := context.Background()

	older := namedExperiment("exp-old", "old-flow", time.Now().Add(-96*time.Hour))
	newer := namedExperiment("exp-new", "new-flow", time.Now().Add(-48*time.Hour))
	// Insert newest first to prove ordering comes from StartedAt.
	for _, exp := range []*domain.Experiment{newer, older} {
		if err := f.experiments.Create(ctx, exp); err != nil {
			t.Fatal(err)
		}
		f.eligibility.results[exp.ID] = eligibleResult(exp)
	}

	if err := f.scheduler.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(f.promotions.promoted) != 1 || f.promotions.promoted[0] != older.ID {
		t.Fatalf("promoted = %v, want only the oldest experiment", f.promotions.promoted)
	}
	// Quota exhausted after the first promotion: the scan stops early and
	// the newer experiment is not even evaluated this tick.
	if len(f.eligibility.evaluated) != 1 {
		t.Errorf("evaluated = %v, want scan to stop after quota exhaustion", f.eligibility.evaluated)
	}
}

func TestRunOnce_QuotaCountsRecentPromotions(t *testing.T) {
	cfg := defaultSchedulerConfig()
	cfg.MaxConcurrentPromotions = 1

	f := newSchedulerFixture(t, cfg)
	ctx := context.Background()

	exp := namedExperiment("exp-1", "checkout-flow", time.Now().Add(-48*time.Hour))
	if err := f.experiments.Create(ctx, exp); err != nil {
		t.Fatal(err)
	}
	f.eligibility.results[exp.ID] = eligibleResult(exp)

	// A promotion 10 minutes ago inside the 1h window uses up the quota.
	if err := f.audits.Append(ctx, &domain.PromotionAuditRecord{
		ID:           "rec-prior",
		Type:         domain.RecordPromotion,
		ExperimentID: "exp-other",
		PromotedAt:   time.Now().Add(-10 * time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	if err := f.scheduler.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(f.eligibility.evaluated) != 1 {
		t.Error("the experiment should still be evaluated")
	}
	if len(f.promotions.promoted) != 0 {
		t.Errorf("promoted = %v, want none with quota exhausted", f.promotions.promoted)
	}
}

func TestRunOnce_ErrorIsolation(t *testing.T) {
	f := newSchedulerFixture(t, defaultSchedulerConfig())
	ctx := context.Background()

	broken := namedExperiment("exp-broken", "broken-flow", time.Now().Add(-96*time.Hour))
	healthy := namedExperiment("exp-ok", "ok-flow", time.Now().Add(-48*time.Hour))
	for _, exp := range []*domain.Experiment{broken, healthy} {
		if err := f.experiments.Create(ctx, exp); err != nil {
			t.Fatal(err)
		}
	}
	f.eligibility.errs[broken.ID] = errors.New("metrics store unavailable")
	f.eligibility.results[healthy.ID] = eligibleResult(healthy)

	if err := f.scheduler.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(f.promotions.promoted) != 1 || f.promotions.promoted[0] != healthy.ID {
		t.Fatalf("promoted = %v, want the healthy experiment despite the broken one", f.promotions.promoted)
	}
}

func TestRunOnce_DispatchesFailedCheckAlerts(t *testing.T) {
	f := newSchedulerFixture(t, defaultSchedulerConfig())
	ctx := context.Background()

	exp := namedExperiment("exp-1", "checkout-flow", time.Now().Add(-48*time.Hour))
	if err := f.experiments.Create(ctx, exp); err != nil {
		t.Fatal(err)
	}

	result := notReadyResult(exp)
	result.WinningVariant = "variant-a"
	result.Checks = []domain.SafetyCheckResult{
		{Name: domain.CheckWinnerErrorRate, Passed: false, Severity: domain.SeverityCritical, Message: "error rate over limit"},
		{Name: domain.CheckImprovement, Passed: true, Severity: domain.SeverityWarning},
	}
	f.eligibility.results[exp.ID] = result

	if err := f.scheduler.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	sent := f.gateway.Sent()
	if len(sent) != 1 {
		t.Fatalf("gateway received %d notifications, want 1 for the failed check", len(sent))
	}
	if sent[0].Metadata["experiment"] != "checkout-flow" {
		t.Errorf("notification experiment = %q", sent[0].Metadata["experiment"])
	}
	if len(f.promotions.promoted) != 0 {
		t.Error("ineligible experiment must not be promoted")
	}
}

func TestScheduler_StartAndStop(t *testing.T) {
	cfg := defaultSchedulerConfig()
	cfg.Interval = 10 * time.Millisecond

	f := newSchedulerFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.scheduler.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	f.scheduler.Stop()

	// A few empty scans must have run without panicking or promoting.
	if len(f.promotions.promoted) != 0 {
		t.Errorf("promoted = %v, want none", f.promotions.promoted)
	}
}
