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
	"autopromo/pkg/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RollbackService reverts a prior promotion. It shares the per-experiment
// lock with the promotion service so a promotion and a rollback can never
// be in flight concurrently for the same experiment.
type RollbackService struct {
	experiments ports.ExperimentRepository
	audits      ports.AuditRepository
	locks       ports.LockManager
	dispatcher  ports.AlertDispatcher
	cache       *cache.Cache
	recorder    ports.ScanRecorder
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewRollbackService creates a rollback manager.
func NewRollbackService(
	experiments ports.ExperimentRepository,
	audits ports.AuditRepository,
	locks ports.LockManager,
	dispatcher ports.AlertDispatcher,
	experimentCache *cache.Cache,
	recorder ports.ScanRecorder,
	logger *zap.SugaredLogger,
) *RollbackService {
	return &RollbackService{
		experiments: experiments,
		audits:      audits,
		locks:       locks,
		dispatcher:  dispatcher,
		cache:       experimentCache,
		recorder:    recorder,
		logger:      logger,
		now:         time.Now,
	}
}

// Rollback reverts the most recent non-rolled-back promotion for the named
// experiment. A nil redistribution defaults to an equal split; a supplied
// one must sum to 100 or the rollback fails before any mutation.
func (s *RollbackService) Rollback(ctx context.Context, experimentName, reason string, redistribution map[string]float64) (*domain.PromotionAuditRecord, error) {
	ctx, span := tracing.TraceRollback(ctx, experimentName)
	defer span.End()

	if err := validation.ValidateExperimentName(experimentName); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateReason(reason); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	exp, err := s.experiments.GetByName(ctx, experimentName)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	lock := s.locks.ForExperiment(exp.ID)
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire promotion lock: %w", err)
	}
	if !acquired {
		return nil, apperrors.NewConflictError(domain.ErrPromotionInProgress.Error())
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			s.logger.Warnw("failed to release promotion lock", "experiment_id", exp.ID, "error", err)
		}
	}()

	promoted, err := s.audits.LatestActive(ctx, exp.ID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	allocation, err := s.resolveAllocation(exp, redistribution)
	if err != nil {
		return nil, err
	}

	if err := s.experiments.UpdateTraffic(ctx, exp.ID, allocation); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to update traffic allocation: %w", err)
	}

	at := s.now()
	if err := s.audits.MarkRolledBack(ctx, promoted.ID, at, reason); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to mark promotion rolled back: %w", err)
	}

	// New record referencing the reverted promotion keeps the lineage
	// intact; prior records are never deleted.
	record := &domain.PromotionAuditRecord{
		ID:             domain.AuditRecordID(uuid.NewString()),
		Type:           domain.RecordRolledBack,
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		VariantID:      promoted.VariantID,
		VariantName:    promoted.VariantName,
		PreviousID:     promoted.PreviousID,
		PreviousName:   promoted.PreviousName,
		Trigger:        domain.TriggerManual,
		Reason:         reason,
		RefersTo:       promoted.ID,
		PromotedAt:     at,
	}
	if err := s.audits.Append(ctx, record); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to append audit record: %w", err)
	}

	s.cache.Invalidate(experimentCacheKey(exp.ID))
	if s.recorder != nil {
		s.recorder.RollbackExecuted()
	}

	s.logger.Infow("rolled back promotion",
		"experiment_id", exp.ID,
		"experiment_name", exp.Name,
		"variant", promoted.VariantName,
		"refers_to", promoted.ID,
		"reason", reason,
	)

	s.notify(ctx, rollbackAlert(record))

	return record, nil
}

// resolveAllocation builds the post-rollback allocation. Validation is
// complete before any mutation: an invalid split leaves traffic unchanged.
func (s *RollbackService) resolveAllocation(exp *domain.Experiment, redistribution map[string]float64) (map[domain.VariantID]float64, error) {
	allocation := make(map[domain.VariantID]float64, len(exp.Variants))

	if redistribution == nil {
		share := 100.0 / float64(len(exp.Variants))
		for _, v := range exp.Variants {
			allocation[v.ID] = share
		}
		return allocation, nil
	}

	names := make([]string, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		names = append(names, v.Name)
	}
	if violations := validation.ValidateTrafficSplit(redistribution, names); len(violations) > 0 {
		return nil, apperrors.NewValidationError("invalid traffic redistribution", violations)
	}

	for _, v := range exp.Variants {
		allocation[v.ID] = redistribution[v.Name]
	}
	return allocation, nil
}

func (s *RollbackService) notify(ctx context.Context, alert domain.Alert) {
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
