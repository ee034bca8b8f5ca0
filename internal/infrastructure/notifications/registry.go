package notifications

import (
	"context"

	"autopromo/internal/core/domain"
)

// StaticRegistry serves a fixed subscriber list loaded from configuration.
type StaticRegistry struct {
	subscribers []domain.Subscriber
}

func NewStaticRegistry(subscribers []domain.Subscriber) *StaticRegistry {
	return &StaticRegistry{subscribers: subscribers}
}

func (r *StaticRegistry) ListSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	out := make([]domain.Subscriber, len(r.subscribers))
	copy(out, r.subscribers)
	return out, nil
}
