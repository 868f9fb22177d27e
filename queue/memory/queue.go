// Package memory provides an in-process task queue for tests and
// development. Deferred jobs become claimable once their ready time
// passes; idempotency keys de-duplicate submissions until the job is
// dequeued.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/queue"
)

var (
	_ queue.Enqueuer = (*Queue)(nil)
	_ queue.Consumer = (*Queue)(nil)
)

type entry struct {
	ref     queue.Reference
	key     string
	readyAt time.Time
}

// Queue is an in-memory task queue. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	keys    map[string]struct{}
	now     func() time.Time
}

// New returns a new empty Queue.
func New() *Queue {
	return &Queue{
		keys: make(map[string]struct{}),
		now:  time.Now,
	}
}

// Enqueue schedules the function for the job. A submission whose
// idempotency key is already in flight reports false with no error.
func (q *Queue) Enqueue(_ context.Context, function string, jobID id.JobID, deferBy time.Duration, idempotencyKey string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if idempotencyKey != "" {
		if _, inflight := q.keys[idempotencyKey]; inflight {
			return false, nil
		}
		q.keys[idempotencyKey] = struct{}{}
	}

	q.entries = append(q.entries, entry{
		ref:     queue.Reference{Function: function, JobID: jobID},
		key:     idempotencyKey,
		readyAt: q.now().Add(deferBy),
	})
	return true, nil
}

// Dequeue claims the earliest due reference, or returns nil when nothing
// is claimable yet.
func (q *Queue) Dequeue(_ context.Context) (*queue.Reference, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for i, e := range q.entries {
		if e.readyAt.After(now) {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		if e.key != "" {
			delete(q.keys, e.key)
		}
		ref := e.ref
		return &ref, nil
	}
	return nil, nil
}

// Len reports the number of queued entries, claimable or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
