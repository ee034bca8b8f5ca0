package notifications

import (
	"context"
	"sync"

	"autopromo/internal/core/domain"
)

// MemoryGateway collects notifications in memory and can be told to fail
// for specific recipients. Used in tests.
type MemoryGateway struct {
	mu       sync.Mutex
	sent     []domain.Notification
	failures map[string]error
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{failures: make(map[string]error)}
}

// FailFor makes every delivery to the recipient return err.
func (g *MemoryGateway) FailFor(recipient string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[recipient] = err
}

func (g *MemoryGateway) Send(ctx context.Context, n domain.Notification) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err, ok := g.failures[n.Recipient]; ok {
		return err
	}
	g.sent = append(g.sent, n)
	return nil
}

// Sent returns a copy of everything delivered so far.
func (g *MemoryGateway) Sent() []domain.Notification {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]domain.Notification, len(g.sent))
	copy(out, g.sent)
	return out
}
