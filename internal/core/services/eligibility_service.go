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

	"go.uber.org/zap"
)

// RulesProvider resolves the active rule preset at evaluation time.
type RulesProvider func() (domain.PromotionRules, error)

// EligibilityService combines the significance test and the safety check
// battery into one recommendation. The resulting eligibility is derived
// fresh on every call; only the experiment definition itself is cached.
type EligibilityService struct {
	experiments ports.ExperimentRepository
	metrics     ports.MetricsAggregator
	safety      *SafetyEngine
	activeRules RulesProvider
	cache       *cache.Cache
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewEligibilityService creates an eligibility evaluator.
func NewEligibilityService(
	experiments ports.ExperimentRepository,
	metrics ports.MetricsAggregator,
	safety *SafetyEngine,
	activeRules RulesProvider,
	experimentCache *cache.Cache,
	logger *zap.SugaredLogger,
) *EligibilityService {
	return &EligibilityService{
		experiments: experiments,
		metrics:     metrics,
		safety:      safety,
		activeRules: activeRules,
		cache:       experimentCache,
		logger:      logger,
		now:         time.Now,
	}
}

// Evaluate runs the full pipeline for one experiment. A nil rules argument
// resolves the active preset; a non-nil one takes precedence for this call.
func (s *EligibilityService) Evaluate(ctx context.Context, id domain.ExperimentID, rules *domain.PromotionRules) (*domain.PromotionEligibility, error) {
	ctx, span := tracing.TraceEvaluation(ctx, string(id))
	defer span.End()

	resolved, err := s.resolveRules(rules)
	if err != nil {
		return nil, err
	}

	exp, err := s.getExperiment(ctx, id)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	now := s.now()
	metrics, err := s.metrics.ForExperiment(ctx, exp, domain.DefaultWindow(now))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	eligibility := &domain.PromotionEligibility{
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		EvaluatedAt:    now,
	}

	sig := DetectSignificance(metrics)
	winner, control := findVariantMetrics(metrics, sig.WinnerName)

	if winner == nil || control == nil {
		eligibility.Recommendation = domain.RecommendNotReady
		s.logger.Debugw("no winner or control detected",
			"experiment_id", exp.ID,
			"winner", sig.WinnerName,
		)
		return eligibility, nil
	}

	checks, err := s.safety.RunChecks(ctx, SafetyInput{
		Experiment: exp,
		Winner:     *winner,
		Control:    *control,
		Confidence: sig.Confidence,
		Elapsed:    exp.Elapsed(now),
	}, resolved)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	eligibility.WinningVariant = sig.WinnerName
	eligibility.Confidence = sig.Confidence
	eligibility.Improvement = RelativeImprovement(winner.SuccessRate, control.SuccessRate)
	eligibility.Checks = checks
	eligibility.Recommendation = recommend(eligibility, resolved)
	eligibility.Eligible = eligibility.Recommendation == domain.RecommendPromote

	tracing.AddSpanAttributes(ctx,
		tracing.RecommendationKey.String(string(eligibility.Recommendation)),
		tracing.VariantKey.String(sig.WinnerName),
	)
	s.logger.Infow("evaluated promotion eligibility",
		"experiment_id", exp.ID,
		"experiment_name", exp.Name,
		"winner", sig.WinnerName,
		"confidence", sig.Confidence,
		"recommendation", eligibility.Recommendation,
	)

	return eligibility, nil
}

// recommend applies the decision ladder; first match wins. Manual-approval
// and warning failures must never be overridden by an otherwise-clean
// critical pass, so the order here is load-bearing.
func recommend(e *domain.PromotionEligibility, rules domain.PromotionRules) domain.Recommendation {
	switch {
	case e.WinningVariant == "":
		return domain.RecommendNotReady
	case e.CriticalFailure():
		return domain.RecommendNotReady
	case rules.RequireManualApproval:
		return domain.RecommendManualReview
	case e.WarningFailure():
		return domain.RecommendManualReview
	case allPassed(e.Checks):
		return domain.RecommendPromote
	default:
		return domain.RecommendWait
	}
}

func allPassed(checks []domain.SafetyCheckResult) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

func findVariantMetrics(metrics []domain.VariantMetrics, winnerName string) (winner, control *domain.VariantMetrics) {
	for i := range metrics {
		switch metrics[i].VariantName {
		case winnerName:
			winner = &metrics[i]
		case domain.ControlVariantName:
			control = &metrics[i]
		}
	}
	if winnerName == "" {
		winner = nil
	}
	return winner, control
}

func (s *EligibilityService) resolveRules(override *domain.PromotionRules) (domain.PromotionRules, error) {
	var rules domain.PromotionRules
	if override != nil {
		rules = *override
	} else {
		resolved, err := s.activeRules()
		if err != nil {
			return domain.PromotionRules{}, fmt.Errorf("failed to resolve active rules: %w", err)
		}
		rules = resolved
	}

	if violations := rules.Validate(); len(violations) > 0 {
		return domain.PromotionRules{}, apperrors.NewValidationError("invalid promotion rules", violations)
	}
	return rules, nil
}

func (s *EligibilityService) getExperiment(ctx context.Context, id domain.ExperimentID) (*domain.Experiment, error) {
	value, err := s.cache.GetOrSet(ctx, experimentCacheKey(id), func(ctx context.Context) (interface{}, error) {
		return s.experiments.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return value.(*domain.Experiment), nil
}

func experimentCacheKey(id domain.ExperimentID) string {
	return "experiment:" + string(id)
}
