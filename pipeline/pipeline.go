package pipeline

import (
	"time"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/id"
)

// Status represents the lifecycle status of a pipeline.
type Status string

const (
	// StatusCreated means the pipeline has been planned but not started.
	StatusCreated Status = "created"
	// StatusRunning means the pipeline is actively executing jobs.
	StatusRunning Status = "running"
	// StatusPaused means coordination is suspended; running jobs finish but
	// no new jobs are enqueued.
	StatusPaused Status = "paused"
	// StatusSucceeded means every job finished successfully.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means at least one job failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled means the pipeline finished with no succeeded jobs.
	StatusCancelled Status = "cancelled"
	// StatusPartial means succeeded jobs coexist with cancelled or skipped
	// ones.
	StatusPartial Status = "partial"
)

// Terminal reports whether the status is terminal. Paused is not terminal:
// a paused pipeline resumes.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusPartial:
		return true
	case StatusCreated, StatusRunning, StatusPaused:
		return false
	}
	return false
}

// Pipeline is an owning aggregate coordinating a DAG of job runs. Job and
// dependency rows are created by the surrounding application when the
// pipeline is planned; the orchestrator only reads and updates them.
type Pipeline struct {
	conduct.Entity

	ID   id.PipelineID `json:"id"`
	Name string        `json:"name"`

	Status Status `json:"status"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
}
