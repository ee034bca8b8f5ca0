package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"autopromo/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// RedisAuditRepository keeps one hash of records per experiment plus a
// sorted set ordered by promotion time for history queries, and a global
// sorted set of promotions for quota counting.
type RedisAuditRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisAuditRepository(client *redis.Client) *RedisAuditRepository {
	return &RedisAuditRepository{
		client: client,
		prefix: "autopromo:audit:",
	}
}

func (r *RedisAuditRepository) recordsKey(id domain.ExperimentID) string {
	return r.prefix + "records:" + string(id)
}

func (r *RedisAuditRepository) timelineKey(id domain.ExperimentID) string {
	return r.prefix + "timeline:" + string(id)
}

func (r *RedisAuditRepository) promotionsKey() string {
	return r.prefix + "promotions"
}

func (r *RedisAuditRepository) Append(ctx context.Context, record *domain.PromotionAuditRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.recordsKey(record.ExperimentID), string(record.ID), data)
	pipe.ZAdd(ctx, r.timelineKey(record.ExperimentID), redis.Z{
		Score:  float64(record.PromotedAt.UnixNano()),
		Member: string(record.ID),
	})
	if record.Type == domain.RecordPromotion {
		pipe.ZAdd(ctx, r.promotionsKey(), redis.Z{
			Score:  float64(record.PromotedAt.UnixNano()),
			Member: string(record.ExperimentID) + ":" + string(record.ID),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}

func (r *RedisAuditRepository) LatestActive(ctx context.Context, id domain.ExperimentID) (*domain.PromotionAuditRecord, error) {
	// Newest first; the first non-rolled-back promotion wins.
	ids, err := r.client.ZRevRange(ctx, r.timelineKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit timeline: %w", err)
	}

	for _, recordID := range ids {
		record, err := r.getRecord(ctx, id, domain.AuditRecordID(recordID))
		if err != nil {
			return nil, err
		}
		if record.Type == domain.RecordPromotion && record.RolledBackAt == nil {
			return record, nil
		}
	}

	return nil, domain.ErrNoActivePromotion
}

func (r *RedisAuditRepository) MarkRolledBack(ctx context.Context, recordID domain.AuditRecordID, at time.Time, reason string) error {
	// The record ID alone does not locate the hash, so scan the per
	// experiment hashes via the global promotions set.
	members, err := r.client.ZRange(ctx, r.promotionsKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read promotions index: %w", err)
	}

	for _, member := range members {
		expID, recID, ok := splitPromotionMember(member)
		if !ok || recID != string(recordID) {
			continue
		}

		record, err := r.getRecord(ctx, domain.ExperimentID(expID), recordID)
		if err != nil {
			return err
		}

		rolledBackAt := at
		record.RolledBackAt = &rolledBackAt
		record.RollbackReason = reason

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal audit record: %w", err)
		}
		if err := r.client.HSet(ctx, r.recordsKey(record.ExperimentID), string(record.ID), data).Err(); err != nil {
			return fmt.Errorf("failed to update audit record: %w", err)
		}
		return nil
	}

	return domain.ErrAuditRecordNotFound
}

func (r *RedisAuditRepository) ListByExperiment(ctx context.Context, id domain.ExperimentID) ([]*domain.PromotionAuditRecord, error) {
	ids, err := r.client.ZRevRange(ctx, r.timelineKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit timeline: %w", err)
	}

	records := make([]*domain.PromotionAuditRecord, 0, len(ids))
	for _, recordID := range ids {
		record, err := r.getRecord(ctx, id, domain.AuditRecordID(recordID))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

func (r *RedisAuditRepository) CountPromotionsSince(ctx context.Context, since time.Time) (int, error) {
	count, err := r.client.ZCount(ctx, r.promotionsKey(),
		fmt.Sprintf("%d", since.UnixNano()),
		"+inf",
	).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count promotions: %w", err)
	}

	return int(count), nil
}

func (r *RedisAuditRepository) getRecord(ctx context.Context, expID domain.ExperimentID, recordID domain.AuditRecordID) (*domain.PromotionAuditRecord, error) {
	data, err := r.client.HGet(ctx, r.recordsKey(expID), string(recordID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrAuditRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}

	var record domain.PromotionAuditRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit record: %w", err)
	}

	return &record, nil
}

func splitPromotionMember(member string) (expID, recordID string, ok bool) {
	for i := 0; i < len(member); i++ {
		if member[i] == ':' {
			return member[:i], member[i+1:], true
		}
	}
	return "", "", false
}
