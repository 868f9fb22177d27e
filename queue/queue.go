// Package queue defines the task-queue contract consumed by pipeline
// coordination and the worker pool, plus per-queue rate limiting.
//
// Producers see [Enqueuer]: submit a function invocation for a job,
// optionally deferred, de-duplicated by an idempotency key (the job URN).
// Workers see [Consumer]: claim the next due [Reference]. The memory and
// redis subpackages provide backends.
package queue

import (
	"context"
	"time"

	"github.com/xraph/conduct/id"
)

// Reference is the queue payload: enough to locate the job row and the
// registered function to run. Everything else lives in the datastore.
type Reference struct {
	Function string   `json:"function"`
	JobID    id.JobID `json:"job_id"`
}

// Enqueuer submits jobs for execution.
type Enqueuer interface {
	// Enqueue schedules the named function for the given job. The job
	// becomes claimable after deferBy elapses (zero means immediately).
	// idempotencyKey de-duplicates submissions: a second Enqueue with a key
	// that is still in flight reports false with no error, so redundant
	// coordination passes never double-queue a job.
	Enqueue(ctx context.Context, function string, jobID id.JobID, deferBy time.Duration, idempotencyKey string) (bool, error)
}

// Consumer claims due jobs on the worker side.
type Consumer interface {
	// Dequeue returns the next due reference, or nil if the queue has no
	// claimable work right now.
	Dequeue(ctx context.Context) (*Reference, error)
}
