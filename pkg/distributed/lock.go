package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"autopromo/internal/core/domain"
	"autopromo/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisLock provides distributed locking using Redis. The value is unique
// per holder so only the owner can release the lock.
type RedisLock struct {
	client    *redis.Client
	key       string
	value     string
	ttl       time.Duration
	stopRenew chan struct{}
}

func newRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client:    client,
		key:       key,
		value:     generateLockValue(),
		ttl:       ttl,
		stopRenew: make(chan struct{}),
	}
}

func generateLockValue() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// TryLock attempts to acquire the lock without blocking.
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}

	if acquired {
		go l.renewLock(ctx)
		return true, nil
	}

	return false, nil
}

// Unlock releases the lock.
func (l *RedisLock) Unlock(ctx context.Context) error {
	close(l.stopRenew)

	// Lua script ensures we only delete our own lock
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}

	if result.(int64) == 0 {
		return fmt.Errorf("lock was not held by this instance")
	}

	return nil
}

// renewLock periodically renews the lock to prevent expiration while the
// critical section is still running.
func (l *RedisLock) renewLock(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			currentValue, err := l.client.Get(ctx, l.key).Result()
			if err != nil {
				return
			}
			if currentValue != l.value {
				return
			}
			l.client.Expire(ctx, l.key, l.ttl)

		case <-l.stopRenew:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RedisLockManager hands out per-experiment Redis locks.
type RedisLockManager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLockManager creates a Redis-backed lock manager.
func NewRedisLockManager(client *redis.Client, prefix string, ttl time.Duration) *RedisLockManager {
	return &RedisLockManager{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (m *RedisLockManager) ForExperiment(id domain.ExperimentID) ports.ExperimentLock {
	return newRedisLock(m.client, m.prefix+string(id), m.ttl)
}

// ProcessLockManager serializes per-experiment work inside one process.
// Used when Redis is disabled; the locking discipline is identical.
type ProcessLockManager struct {
	mu   sync.Mutex
	held map[domain.ExperimentID]bool
}

// NewProcessLockManager creates an in-process lock manager.
func NewProcessLockManager() *ProcessLockManager {
	return &ProcessLockManager{
		held: make(map[domain.ExperimentID]bool),
	}
}

func (m *ProcessLockManager) ForExperiment(id domain.ExperimentID) ports.ExperimentLock {
	return &processLock{manager: m, id: id}
}

type processLock struct {
	manager *ProcessLockManager
	id      domain.ExperimentID
}

func (l *processLock) TryLock(ctx context.Context) (bool, error) {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()

	if l.manager.held[l.id] {
		return false, nil
	}
	l.manager.held[l.id] = true
	return true, nil
}

func (l *processLock) Unlock(ctx context.Context) error {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()

	if !l.manager.held[l.id] {
		return fmt.Errorf("lock was not held by this instance")
	}
	delete(l.manager.held, l.id)
	return nil
}
