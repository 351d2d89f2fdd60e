package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stacksignal/eventpipe/internal/core/domain"
)

// Dead-letter records expire after this TTL unless resolved first.
const deadLetterTTL = 24 * time.Hour

// DeadLetterStore keeps failed events in Redis for inspection and manual
// replay. Records are ordered by first failure time.
type DeadLetterStore struct {
	rdb     *redis.Client
	network string
}

// NewDeadLetterStore creates a Redis-backed dead-letter store scoped to a
// network.
func NewDeadLetterStore(client *Client, network string) *DeadLetterStore {
	return &DeadLetterStore{
		rdb:     client.rdb,
		network: network,
	}
}

func (s *DeadLetterStore) queueKey() string {
	return fmt.Sprintf("failed_events:%s", s.network)
}

func (s *DeadLetterStore) recordKey(id string) string {
	return fmt.Sprintf("failed_event:%s:%s", s.network, id)
}

// Record stores a failed event. Oldest failures sort first.
func (s *DeadLetterStore) Record(ctx context.Context, fe *domain.FailedEvent) error {
	data, err := json.Marshal(fe)
	if err != nil {
		return fmt.Errorf("failed to marshal failed event: %w", err)
	}

	if err := s.rdb.Set(ctx, s.recordKey(fe.ID), data, deadLetterTTL).Err(); err != nil {
		return fmt.Errorf("failed to set failed event: %w", err)
	}

	if err := s.rdb.ZAdd(ctx, s.queueKey(), redis.Z{
		Score:  float64(fe.FirstFailure),
		Member: fe.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to dead-letter queue: %w", err)
	}

	return nil
}

// Pending returns up to limit failed events, oldest first. Expired records
// still indexed in the queue are dropped from it as they are encountered.
func (s *DeadLetterStore) Pending(ctx context.Context, limit int64) ([]*domain.FailedEvent, error) {
	ids, err := s.rdb.ZRange(ctx, s.queueKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	out := make([]*domain.FailedEvent, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
		if err == redis.Nil {
			s.rdb.ZRem(ctx, s.queueKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get failed event: %w", err)
		}

		var fe domain.FailedEvent
		if err := json.Unmarshal(data, &fe); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failed event: %w", err)
		}
		out = append(out, &fe)
	}

	return out, nil
}

// MarkRetried bumps the retry count and last attempt time of a record.
func (s *DeadLetterStore) MarkRetried(ctx context.Context, id string) error {
	data, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		return fmt.Errorf("failed to get failed event: %w", err)
	}

	var fe domain.FailedEvent
	if err := json.Unmarshal(data, &fe); err != nil {
		return fmt.Errorf("failed to unmarshal failed event: %w", err)
	}

	fe.RetryCount++
	fe.LastAttempt = time.Now().Unix()

	newData, err := json.Marshal(&fe)
	if err != nil {
		return fmt.Errorf("failed to marshal failed event: %w", err)
	}
	if err := s.rdb.Set(ctx, s.recordKey(id), newData, deadLetterTTL).Err(); err != nil {
		return fmt.Errorf("failed to set failed event: %w", err)
	}

	return nil
}

// Resolve removes a record after a successful replay (or manual dismissal).
func (s *DeadLetterStore) Resolve(ctx context.Context, id string) error {
	if err := s.rdb.ZRem(ctx, s.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("zrem failed: %w", err)
	}
	if err := s.rdb.Del(ctx, s.recordKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete failed event: %w", err)
	}
	return nil
}

// Depth returns the number of pending dead-letter records.
func (s *DeadLetterStore) Depth(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, s.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return n, nil
}
