package http

import (
	"errors"
	"net/http"

	"autopromo/internal/core/domain"
	"autopromo/internal/core/ports"
	apperrors "autopromo/pkg/errors"
	"autopromo/pkg/validation"

	"github.com/gin-gonic/gin"
)

// PromotionHandler exposes the operator control surface: eligibility
// checks, manual promotion, rollback and promotion history.
type PromotionHandler struct {
	experiments ports.ExperimentRepository
	eligibility ports.EligibilityService
	promotions  ports.PromotionService
	rollbacks   ports.RollbackService
	audits      ports.AuditRepository
}

func NewPromotionHandler(
	experiments ports.ExperimentRepository,
	eligibility ports.EligibilityService,
	promotions ports.PromotionService,
	rollbacks ports.RollbackService,
	audits ports.AuditRepository,
) *PromotionHandler {
	return &PromotionHandler{
		experiments: experiments,
		eligibility: eligibility,
		promotions:  promotions,
		rollbacks:   rollbacks,
		audits:      audits,
	}
}

func (h *PromotionHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/experiments/:name/eligibility", h.CheckEligibility)
		api.POST("/experiments/:name/promote", h.Promote)
		api.POST("/experiments/:name/rollback", h.Rollback)
		api.GET("/experiments/:name/history", h.History)
	}
}

func (h *PromotionHandler) CheckEligibility(c *gin.Context) {
	exp, ok := h.lookupExperiment(c)
	if !ok {
		return
	}

	eligibility, err := h.eligibility.Evaluate(c.Request.Context(), exp.ID, nil)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"eligibility": eligibility,
	})
}

func (h *PromotionHandler) Promote(c *gin.Context) {
	var req struct {
		OperatorID string                 `json:"operator_id"`
		Reason     string                 `json:"reason"`
		Force      bool                   `json:"force"`
		Variant    string                 `json:"variant"`
		Rules      *domain.PromotionRules `json:"rules"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exp, ok := h.lookupExperiment(c)
	if !ok {
		return
	}

	result, err := h.promotions.Promote(c.Request.Context(), exp.ID, ports.PromoteOptions{
		Trigger:     domain.TriggerManual,
		OperatorID:  req.OperatorID,
		Reason:      req.Reason,
		Force:       req.Force,
		VariantName: req.Variant,
		Rules:       req.Rules,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if result.Promoted {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"result": result,
	})
}

func (h *PromotionHandler) Rollback(c *gin.Context) {
	var req struct {
		Reason         string             `json:"reason"`
		Redistribution map[string]float64 `json:"redistribution"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.rollbacks.Rollback(c.Request.Context(), c.Param("name"), req.Reason, req.Redistribution)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"record": record,
	})
}

func (h *PromotionHandler) History(c *gin.Context) {
	exp, ok := h.lookupExperiment(c)
	if !ok {
		return
	}

	records, err := h.audits.ListByExperiment(c.Request.Context(), exp.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"experiment": exp.Name,
		"records":    records,
	})
}

func (h *PromotionHandler) lookupExperiment(c *gin.Context) (*domain.Experiment, bool) {
	name := c.Param("name")
	if err := validation.ValidateExperimentName(name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	exp, err := h.experiments.GetByName(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return exp, true
}

func respondError(c *gin.Context, err error) {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Violations) > 0 {
			body["violations"] = appErr.Violations
		}
		c.JSON(appErr.HTTPStatus, body)
		return
	}

	switch {
	case errors.Is(err, domain.ErrExperimentNotFound),
		errors.Is(err, domain.ErrVariantNotFound),
		errors.Is(err, domain.ErrAuditRecordNotFound),
		errors.Is(err, domain.ErrNoActivePromotion):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPromotionInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
