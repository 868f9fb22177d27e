// Package redis implements the task queue on Redis. Ready references
// live in a Sorted Set scored by their due time, so deferred retries
// become visible exactly when their delay elapses. Idempotency keys are
// plain keys claimed with SETNX and released on dequeue.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	q := redisqueue.New(client)
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/queue"
)

const (
	readyKey  = "conduct:queue:ready"
	dedupeKey = "conduct:queue:dedupe:"
)

var (
	_ queue.Enqueuer = (*Queue)(nil)
	_ queue.Consumer = (*Queue)(nil)
)

// Option configures the Queue.
type Option func(*Queue)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Queue is a Redis-backed task queue. The caller owns the Redis client
// lifecycle.
type Queue struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed queue.
func New(client goredis.Cmdable, opts ...Option) *Queue {
	q := &Queue{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Client returns the underlying Redis client.
func (q *Queue) Client() goredis.Cmdable { return q.client }

// entry is the wire form of one queued reference. The idempotency key
// travels with it so dequeue can release the claim.
type entry struct {
	Function string `json:"function"`
	JobID    string `json:"job_id"`
	Key      string `json:"key,omitempty"`
}

// Enqueue submits a job reference, due after deferBy. When idempotencyKey
// is non-empty and an entry holding the same key is already queued, the
// submission is dropped and Enqueue returns false.
func (q *Queue) Enqueue(ctx context.Context, function string, jobID id.JobID, deferBy time.Duration, idempotencyKey string) (bool, error) {
	if idempotencyKey != "" {
		claimed, err := q.client.SetNX(ctx, dedupeKey+idempotencyKey, jobID.String(), 0).Result()
		if err != nil {
			return false, fmt.Errorf("conduct/redis: claim idempotency key: %w", err)
		}
		if !claimed {
			q.logger.Debug("Duplicate submission dropped",
				slog.String("function", function),
				slog.String("job_id", jobID.String()),
			)
			return false, nil
		}
	}

	data, err := json.Marshal(entry{
		Function: function,
		JobID:    jobID.String(),
		Key:      idempotencyKey,
	})
	if err != nil {
		return false, fmt.Errorf("conduct/redis: encode entry: %w", err)
	}

	readyAt := time.Now().UTC().Add(deferBy)
	err = q.client.ZAdd(ctx, readyKey, goredis.Z{
		Score:  float64(readyAt.UnixNano()),
		Member: string(data),
	}).Err()
	if err != nil {
		return false, fmt.Errorf("conduct/redis: enqueue: %w", err)
	}
	return true, nil
}

// Dequeue claims the earliest due reference, or returns nil when nothing
// is due. Claiming releases the entry's idempotency key so the job can be
// re-queued by a later retry.
func (q *Queue) Dequeue(ctx context.Context) (*queue.Reference, error) {
	now := time.Now().UTC()

	for {
		members, err := q.client.ZRangeByScore(ctx, readyKey, &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   fmt.Sprintf("%d", now.UnixNano()),
			Count: 1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("conduct/redis: dequeue range: %w", err)
		}
		if len(members) == 0 {
			return nil, nil
		}

		// ZRem reports how many members were removed; zero means another
		// consumer claimed this entry first, so try the next one.
		removed, err := q.client.ZRem(ctx, readyKey, members[0]).Result()
		if err != nil {
			return nil, fmt.Errorf("conduct/redis: dequeue claim: %w", err)
		}
		if removed == 0 {
			continue
		}

		var e entry
		if err := json.Unmarshal([]byte(members[0]), &e); err != nil {
			return nil, fmt.Errorf("conduct/redis: decode entry: %w", err)
		}

		if e.Key != "" {
			if err := q.client.Del(ctx, dedupeKey+e.Key).Err(); err != nil {
				return nil, fmt.Errorf("conduct/redis: release idempotency key: %w", err)
			}
		}

		jobID, err := id.ParseJobID(e.JobID)
		if err != nil {
			return nil, fmt.Errorf("conduct/redis: parse job id %q: %w", e.JobID, err)
		}
		return &queue.Reference{Function: e.Function, JobID: jobID}, nil
	}
}

// Len returns the number of queued references, due or not.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conduct/redis: len: %w", err)
	}
	return n, nil
}
