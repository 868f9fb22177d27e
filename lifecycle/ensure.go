package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
)

// JobSpec describes the job record to guarantee before execution.
type JobSpec struct {
	Function string
	JobType  string

	// PipelineID links the job to a pipeline. Nil for standalone jobs.
	PipelineID id.PipelineID

	MaxRetries int
	RetryDelay time.Duration
	Priority   int

	CorrelationID string
}

// EnsureJobRecord guarantees a JobRun exists before execution begins.
// Creation is idempotent per function identity: if a non-terminal run for
// the same function already exists it is returned unchanged, so a double
// submission never produces two live records. The URN is derived from the
// generated id.
func EnsureJobRecord(ctx context.Context, db job.Store, spec JobSpec) (*job.JobRun, error) {
	if spec.Function == "" {
		return nil, fmt.Errorf("lifecycle: ensure job record: function name is required: %w",
			conduct.ErrCorruptState)
	}

	existing, err := db.FindActiveJobByFunction(ctx, spec.Function)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: find active job for %q: %w: %w",
			spec.Function, conduct.ErrConnection, err)
	}
	if existing != nil {
		return existing, nil
	}

	jid := id.NewJobID()
	j := &job.JobRun{
		ID:            jid,
		URN:           fmt.Sprintf("urn:conduct:job:%s", jid),
		JobType:       spec.JobType,
		Function:      spec.Function,
		PipelineID:    spec.PipelineID,
		Status:        job.StatusPending,
		Priority:      spec.Priority,
		MaxRetries:    spec.MaxRetries,
		RetryDelay:    spec.RetryDelay,
		CorrelationID: spec.CorrelationID,
	}
	if err := db.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("lifecycle: create job record for %q: %w: %w",
			spec.Function, conduct.ErrConnection, err)
	}
	return j, nil
}
