package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"autopromo/internal/core/ports"
	"autopromo/internal/infrastructure/repositories/memory"
	"autopromo/internal/infrastructure/repositories/postgres"
	redisrepo "autopromo/internal/infrastructure/repositories/redis"
	"autopromo/pkg/config"
	"autopromo/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support: Postgres
// when configured, then Redis, then memory. A backend that fails to
// connect at startup degrades to the next one with a logged warning.
type RepositoryFactory struct {
	usePostgres bool
	useRedis    bool
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.SugaredLogger

	// Memory fallbacks are shared so every consumer sees the same data.
	memExperiments *memory.MemoryExperimentRepository
	memEvents      *memory.MemoryEventStore
	memAudits      *memory.MemoryAuditRepository
	memAlerts      *memory.MemoryAlertLog
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		usePostgres:    cfg.Postgres.Enabled,
		useRedis:       cfg.Redis.Enabled,
		logger:         logger,
		memExperiments: memory.NewMemoryExperimentRepository(),
		memEvents:      memory.NewMemoryEventStore(),
		memAudits:      memory.NewMemoryAuditRepository(),
		memAlerts:      memory.NewMemoryAlertLog(),
	}

	if cfg.Postgres.Enabled {
		db, err := postgres.Open(cfg.Postgres.DSN, logger)
		if err != nil {
			logger.Warnw("failed to connect to Postgres, falling back",
				"error", err,
			)
			factory.usePostgres = false
		} else {
			factory.db = db
			logger.Info("using Postgres repositories")
		}
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			if !factory.usePostgres {
				logger.Info("using Redis repositories")
			}
		}
	}

	if !factory.usePostgres && !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateExperimentRepository creates the experiment repository.
func (f *RepositoryFactory) CreateExperimentRepository() ports.ExperimentRepository {
	if f.usePostgres {
		return postgres.NewPostgresExperimentRepository(f.db)
	}
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisExperimentRepository(f.redisClient)
	}
	return f.memExperiments
}

// CreateEventStore creates the raw event store. Events only live in
// Postgres or memory; the Redis backend carries no event history.
func (f *RepositoryFactory) CreateEventStore() ports.EventStore {
	if f.usePostgres {
		return postgres.NewPostgresEventStore(f.db)
	}
	return f.memEvents
}

// CreateAuditRepository creates the audit trail repository.
func (f *RepositoryFactory) CreateAuditRepository() ports.AuditRepository {
	if f.usePostgres {
		return postgres.NewPostgresAuditRepository(f.db)
	}
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisAuditRepository(f.redisClient)
	}
	return f.memAudits
}

// CreateAlertLog creates the alert delivery log.
func (f *RepositoryFactory) CreateAlertLog() ports.AlertLog {
	if f.usePostgres {
		return postgres.NewPostgresAlertLog(f.db)
	}
	return f.memAlerts
}

// CreateLockManager creates the per-experiment lock manager. Redis locks
// coordinate across instances; the process lock covers single-instance
// deployments.
func (f *RepositoryFactory) CreateLockManager(ttl time.Duration) ports.LockManager {
	if f.useRedis && f.redisClient != nil {
		return distributed.NewRedisLockManager(f.redisClient, "autopromo:lock:experiment:", ttl)
	}
	return distributed.NewProcessLockManager()
}

// HealthCheck pings the configured backends.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.db != nil {
		if err := f.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if f.redisClient != nil {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases backend connections.
func (f *RepositoryFactory) Close() error {
	var firstErr error
	if f.db != nil {
		if err := f.db.Close(); err != nil {
			firstErr = err
		}
	}
	if f.redisClient != nil {
		if err := redisrepo.CloseRedisClient(f.redisClient); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
