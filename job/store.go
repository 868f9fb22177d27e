package job

import (
	"context"

	"github.com/xraph/conduct/id"
)

// Store defines the persistence contract for job runs. All methods operate
// within the caller's transaction scope; implementations flush writes but
// never commit.
type Store interface {
	// CreateJob persists a new job run.
	CreateJob(ctx context.Context, j *JobRun) error

	// GetJob retrieves a job run by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*JobRun, error)

	// UpdateJob persists changes to an existing job run.
	UpdateJob(ctx context.Context, j *JobRun) error

	// ListPipelineJobs returns the pipeline's jobs matching any of the given
	// statuses, ordered by creation time. An empty status list matches all
	// jobs.
	ListPipelineJobs(ctx context.Context, pipelineID id.PipelineID, statuses ...Status) ([]*JobRun, error)

	// CountPipelineJobsByStatus returns a histogram of job statuses for the
	// pipeline. Statuses with no jobs are absent from the map.
	CountPipelineJobsByStatus(ctx context.Context, pipelineID id.PipelineID) (map[Status]int, error)

	// FindActiveJobByFunction returns the most recent non-terminal job run
	// for the given function name, or nil if none exists. Used by the
	// job-record guarantee for idempotent creation.
	FindActiveJobByFunction(ctx context.Context, function string) (*JobRun, error)
}
