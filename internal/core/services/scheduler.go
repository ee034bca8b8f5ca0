package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"autopromo/internal/core/domain"
	"autopromo/internal/core/ports"
	"autopromo/pkg/tracing"

	"go.uber.org/zap"
)

// SchedulerConfig bounds one scan.
type SchedulerConfig struct {
	Interval                time.Duration
	MaxConcurrentPromotions int
	PromotionWindow         time.Duration
	PerExperimentTimeout    time.Duration
	DispatchMinLevel        domain.Severity
}

// Scheduler periodically scans all active experiments and drives the
// evaluation and promotion pipeline. One failing experiment never halts
// the scan of the rest.
type Scheduler struct {
	cfg         SchedulerConfig
	experiments ports.ExperimentRepository
	audits      ports.AuditRepository
	eligibility ports.EligibilityService
	promotions  ports.PromotionService
	dispatcher  ports.AlertDispatcher
	recorder    ports.ScanRecorder
	logger      *zap.SugaredLogger

	stopChan chan struct{}
	now      func() time.Time
}

// NewScheduler creates the periodic scan driver.
func NewScheduler(
	cfg SchedulerConfig,
	experiments ports.ExperimentRepository,
	audits ports.AuditRepository,
	eligibility ports.EligibilityService,
	promotions ports.PromotionService,
	dispatcher ports.AlertDispatcher,
	recorder ports.ScanRecorder,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		experiments: experiments,
		audits:      audits,
		eligibility: eligibility,
		promotions:  promotions,
		dispatcher:  dispatcher,
		recorder:    recorder,
		logger:      logger,
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
}

// Start launches the periodic scan loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
	s.logger.Infow("scheduler started", "interval", s.cfg.Interval)
}

// Stop signals the scan loop to exit. Safe to call once.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Errorw("scan failed", "error", err)
			}
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single scan over all active experiments. Cancellation
// is cooperative: checked between experiments, never mid-mutation.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, span := tracing.TraceScan(ctx)
	defer span.End()

	start := s.now()

	experiments, err := s.experiments.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active experiments: %w", err)
	}

	// Stable order: oldest-started experiments get first claim on the
	// promotion quota.
	sort.SliceStable(experiments, func(i, j int) bool {
		return experiments[i].StartedAt.Before(experiments[j].StartedAt)
	})

	quota, err := s.remainingQuota(ctx)
	if err != nil {
		return err
	}

	s.logger.Infow("scan started",
		"active_experiments", len(experiments),
		"promotion_quota", quota,
	)

	for _, exp := range experiments {
		select {
		case <-ctx.Done():
			s.logger.Warnw("scan cancelled", "remaining", len(experiments))
			return ctx.Err()
		case <-s.stopChan:
			return nil
		default:
		}

		promoted, err := s.evaluateExperiment(ctx, exp, quota)
		if err != nil {
			// Isolated per experiment; a slow or broken one is skipped
			// and logged for this tick.
			s.logger.Errorw("experiment evaluation failed",
				"experiment_id", exp.ID,
				"experiment_name", exp.Name,
				"error", err,
			)
			if s.recorder != nil {
				s.recorder.EvaluationFailed()
			}
			continue
		}
		if promoted {
			quota--
			if quota <= 0 {
				s.logger.Infow("promotion quota exhausted, stopping scan early")
				break
			}
		}
	}

	elapsed := s.now().Sub(start)
	if s.recorder != nil {
		s.recorder.ScanCompleted(elapsed.Seconds())
	}
	s.logger.Infow("scan completed", "duration", elapsed)

	return nil
}

func (s *Scheduler) remainingQuota(ctx context.Context) (int, error) {
	recent, err := s.audits.CountPromotionsSince(ctx, s.now().Add(-s.cfg.PromotionWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to count recent promotions: %w", err)
	}
	quota := s.cfg.MaxConcurrentPromotions - recent
	if quota < 0 {
		quota = 0
	}
	return quota, nil
}

func (s *Scheduler) evaluateExperiment(ctx context.Context, exp *domain.Experiment, quota int) (bool, error) {
	expCtx, cancel := context.WithTimeout(ctx, s.cfg.PerExperimentTimeout)
	defer cancel()

	eligibility, err := s.eligibility.Evaluate(expCtx, exp.ID, nil)
	if err != nil {
		return false, err
	}
	if s.recorder != nil {
		s.recorder.EvaluationCompleted(eligibility.Recommendation)
	}

	s.dispatchCheckAlerts(expCtx, eligibility)

	if !eligibility.Eligible {
		return false, nil
	}
	if quota <= 0 {
		s.logger.Infow("eligible but quota exhausted",
			"experiment_id", exp.ID,
			"experiment_name", exp.Name,
		)
		return false, nil
	}

	result, err := s.promotions.Promote(expCtx, exp.ID, ports.PromoteOptions{
		Trigger: domain.TriggerAuto,
		Reason:  "automated promotion after eligibility evaluation",
	})
	if err != nil {
		return false, err
	}
	return result.Promoted, nil
}

// dispatchCheckAlerts reports failed safety checks. Best-effort: delivery
// problems never affect the scan.
func (s *Scheduler) dispatchCheckAlerts(ctx context.Context, eligibility *domain.PromotionEligibility) {
	alerts := AlertsFromChecks(eligibility.ExperimentName, eligibility.WinningVariant, eligibility.Checks, eligibility.EvaluatedAt)
	if len(alerts) == 0 {
		return
	}

	if _, err := s.dispatcher.Dispatch(ctx, alerts, s.cfg.DispatchMinLevel); err != nil {
		s.logger.Warnw("failed to dispatch safety check alerts",
			"experiment", eligibility.ExperimentName,
			"error", err,
		)
	}
}
