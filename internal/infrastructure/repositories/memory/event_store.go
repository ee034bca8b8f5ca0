package memory

import (
	"context"
	"sync"

	"autopromo/internal/core/domain"
)

type MemoryEventStore struct {
	events map[domain.VariantID][]domain.RequestEvent
	mu     sync.RWMutex
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events: make(map[domain.VariantID][]domain.RequestEvent),
	}
}

// Record appends a raw event. Not part of the engine's port surface; the
// engine only ever reads events.
func (s *MemoryEventStore) Record(ctx context.Context, event domain.RequestEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.VariantID] = append(s.events[event.VariantID], event)
	return nil
}

func (s *MemoryEventStore) ListEvents(ctx context.Context, variantID domain.VariantID, window domain.TimeWindow) ([]domain.RequestEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.RequestEvent
	for _, ev := range s.events[variantID] {
		if window.Contains(ev.Timestamp) {
			matched = append(matched, ev)
		}
	}

	return matched, nil
}
