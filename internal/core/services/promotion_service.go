package services

import (
	"context"
	"fmt"
	"time"

	"autopromo/internal/core/domain"
	"autopromo/internal/core/ports"
	"autopromo/pkg/cache"
	apperrors "autopromo/pkg/errors"
	"autopromo/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PromotionService executes promotions under an exclusive per-experiment
// lock. All traffic writes go through here or the rollback service; no
// other component may mutate variant percentages.
type PromotionService struct {
	experiments ports.ExperimentRepository
	audits      ports.AuditRepository
	eligibility ports.EligibilityService
	locks       ports.LockManager
	dispatcher  ports.AlertDispatcher
	cache       *cache.Cache
	recorder    ports.ScanRecorder
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewPromotionService creates a promotion executor.
func NewPromotionService(
	experiments ports.ExperimentRepository,
	audits ports.AuditRepository,
	eligibility ports.EligibilityService,
	locks ports.LockManager,
	dispatcher ports.AlertDispatcher,
	experimentCache *cache.Cache,
	recorder ports.ScanRecorder,
	logger *zap.SugaredLogger,
) *PromotionService {
	return &PromotionService{
		experiments: experiments,
		audits:      audits,
		eligibility: eligibility,
		locks:       locks,
		dispatcher:  dispatcher,
		cache:       experimentCache,
		recorder:    recorder,
		logger:      logger,
		now:         time.Now,
	}
}

// Promote attempts to move the winning variant to 100% traffic. Promoting
// a variant already at 100% is idempotent: no mutation, no new audit
// record. Lock contention surfaces as a retryable conflict.
func (s *PromotionService) Promote(ctx context.Context, id domain.ExperimentID, opts ports.PromoteOptions) (*ports.PromotionResult, error) {
	ctx, span := tracing.TracePromotion(ctx, string(id), string(opts.Trigger))
	defer span.End()

	if opts.Force && opts.VariantName == "" {
		return nil, apperrors.NewInvalidInputError("variant name is required when forcing a promotion")
	}

	lock := s.locks.ForExperiment(id)
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire promotion lock: %w", err)
	}
	if !acquired {
		return nil, apperrors.NewConflictError(domain.ErrPromotionInProgress.Error())
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			s.logger.Warnw("failed to release promotion lock", "experiment_id", id, "error", err)
		}
	}()

	var eligibility *domain.PromotionEligibility
	winnerName := opts.VariantName

	if !opts.Force {
		eligibility, err = s.eligibility.Evaluate(ctx, id, opts.Rules)
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
		if eligibility.Recommendation != domain.RecommendPromote {
			return &ports.PromotionResult{
				Eligibility:      eligibility,
				RejectionMessage: fmt.Sprintf("experiment is not eligible for promotion: %s", eligibility.Recommendation),
			}, nil
		}
		winnerName = eligibility.WinningVariant
	}

	// Re-fetch under the lock; the cached copy may predate a concurrent
	// promotion that just released it.
	exp, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	winner := exp.VariantByName(winnerName)
	if winner == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrVariantNotFound, winnerName)
	}

	if winner.TrafficPercent == 100 {
		s.logger.Infow("variant already promoted",
			"experiment_id", exp.ID,
			"variant", winner.Name,
		)
		return &ports.PromotionResult{AlreadyPromoted: true, Eligibility: eligibility}, nil
	}

	previous := exp.LeadingVariant()

	allocation := make(map[domain.VariantID]float64, len(exp.Variants))
	for _, v := range exp.Variants {
		allocation[v.ID] = 0
	}
	allocation[winner.ID] = 100

	if err := s.experiments.UpdateTraffic(ctx, exp.ID, allocation); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to update traffic allocation: %w", err)
	}

	record := s.buildRecord(exp, winner, previous, eligibility, opts)
	if err := s.audits.Append(ctx, record); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to append audit record: %w", err)
	}

	s.cache.Invalidate(experimentCacheKey(exp.ID))
	if s.recorder != nil {
		s.recorder.PromotionExecuted(opts.Trigger)
	}

	s.logger.Infow("promoted variant",
		"experiment_id", exp.ID,
		"experiment_name", exp.Name,
		"variant", winner.Name,
		"previous", record.PreviousName,
		"trigger", opts.Trigger,
		"forced", opts.Force,
	)

	// Notification delivery is best-effort; promotion success does not
	// depend on it.
	s.notify(ctx, promotionAlert(record))

	return &ports.PromotionResult{
		Promoted:    true,
		Record:      record,
		Eligibility: eligibility,
	}, nil
}

func (s *PromotionService) buildRecord(
	exp *domain.Experiment,
	winner, previous *domain.Variant,
	eligibility *domain.PromotionEligibility,
	opts ports.PromoteOptions,
) *domain.PromotionAuditRecord {
	record := &domain.PromotionAuditRecord{
		ID:             domain.AuditRecordID(uuid.NewString()),
		Type:           domain.RecordPromotion,
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		VariantID:      winner.ID,
		VariantName:    winner.Name,
		Trigger:        opts.Trigger,
		OperatorID:     opts.OperatorID,
		Reason:         opts.Reason,
		PromotedAt:     s.now(),
	}

	if previous != nil {
		record.PreviousID = previous.ID
		record.PreviousName = previous.Name
	}

	if eligibility != nil {
		record.Confidence = eligibility.Confidence
		record.Improvement = eligibility.Improvement
		record.Checks = eligibility.Checks
		for _, c := range eligibility.Checks {
			if c.Name == domain.CheckWinnerSampleSize {
				record.SampleSize = int64(c.Value)
			}
		}
	}

	if opts.Force {
		if record.Reason != "" {
			record.Reason += " "
		}
		record.Reason += "[eligibility checks bypassed by operator]"
	}

	return record
}

func (s *PromotionService) notify(ctx context.Context, alert domain.Alert) {
	if s.dispatcher == nil {
		return
	}
	report, err := s.dispatcher.Dispatch(ctx, []domain.Alert{alert}, domain.SeverityInfo)
	if err != nil {
		s.logger.Warnw("failed to dispatch alert", "type", alert.Type, "error", err)
		return
	}
	if report.Failed > 0 {
		s.logger.Warnw("some alert deliveries failed",
			"type", alert.Type,
			"sent", report.Sent,
			"failed", report.Failed,
		)
	}
}
