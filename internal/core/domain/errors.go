package domain

import "errors"

var (
	ErrExperimentNotFound  = errors.New("experiment not found")
	ErrVariantNotFound     = errors.New("variant not found")
	ErrAuditRecordNotFound = errors.New("audit record not found")
	ErrNoActivePromotion   = errors.New("no active promotion")
	ErrPromotionInProgress = errors.New("promotion already in progress")
)
