package memory

import (
	"context"
	"sync"
	"time"

	"autopromo/internal/core/domain"
)

type MemoryAlertLog struct {
	alerts []domain.Alert
	mu     sync.RWMutex
}

func NewMemoryAlertLog() *MemoryAlertLog {
	return &MemoryAlertLog{}
}

func (l *MemoryAlertLog) Record(ctx context.Context, alert domain.Alert) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.alerts = append(l.alerts, alert)
	return nil
}

// CountCritical backs the recent-incident safety check.
func (l *MemoryAlertLog) CountCritical(ctx context.Context, experimentName, variantName string, since time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, a := range l.alerts {
		if a.Level != domain.SeverityCritical {
			continue
		}
		if a.Experiment != experimentName || a.Variant != variantName {
			continue
		}
		if a.Timestamp.Before(since) {
			continue
		}
		count++
	}

	return count, nil
}
