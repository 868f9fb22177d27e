package job

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/id"
)

// Status represents the lifecycle status of a job run.
type Status string

const (
	// StatusPending means the job has been planned but not yet queued.
	StatusPending Status = "pending"
	// StatusQueued means the job has been submitted to the task queue.
	StatusQueued Status = "queued"
	// StatusRunning means a worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusSucceeded means the job finished successfully.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the job finished with an error.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled while active.
	StatusCancelled Status = "cancelled"
	// StatusSkipped means the job was skipped without executing.
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status is terminal: no further transition
// occurs from it without an explicit reset or retry.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	case StatusPending, StatusQueued, StatusRunning:
		return false
	}
	return false
}

// Startable reports whether a job with this status may transition to
// running.
func (s Status) Startable() bool {
	return s == StatusPending || s == StatusQueued
}

// Active reports whether the job is pending, queued, or running — the set
// of jobs that pipeline-wide cancellation must resolve.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusQueued, StatusRunning:
		return true
	}
	return false
}

// FailureCategory classifies job failures for retry eligibility and
// reporting.
type FailureCategory string

const (
	// System-level failures.
	CategorySystemError        FailureCategory = "system_error"
	CategoryTimeout            FailureCategory = "timeout"
	CategoryResourceExhaustion FailureCategory = "resource_exhaustion"
	CategoryConfigurationError FailureCategory = "configuration_error"
	CategoryDependencyFailure  FailureCategory = "dependency_failure"

	// Data and validation failures.
	CategoryValidationError FailureCategory = "validation_error"
	CategoryDataError       FailureCategory = "data_error"

	// External service failures.
	CategoryNetworkError       FailureCategory = "network_error"
	CategoryRateLimited        FailureCategory = "api_rate_limited"
	CategoryServiceUnavailable FailureCategory = "service_unavailable"
	CategoryAuthFailed         FailureCategory = "authentication_failed"

	// Permission and access failures.
	CategoryPermissionError FailureCategory = "permission_error"
	CategoryQuotaExceeded   FailureCategory = "quota_exceeded"

	// Catch-all. Never retryable.
	CategoryUnknown FailureCategory = "unknown"

	// CategoryNone is the zero value: no failure recorded.
	CategoryNone FailureCategory = ""
)

// Failure associates a failure category with an underlying error. Domain
// bodies return (or wrap with) a Failure to refine the category recorded
// on a failed completion; plain errors default to CategoryUnknown and are
// therefore never retried.
type Failure struct {
	Category FailureCategory
	Err      error
}

// NewFailure wraps err with the given category.
func NewFailure(category FailureCategory, err error) *Failure {
	return &Failure{Category: category, Err: err}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Category)
	}
	return string(f.Category) + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// CategoryOf extracts the failure category carried by err, or
// CategoryUnknown when err carries none.
func CategoryOf(err error) FailureCategory {
	var f *Failure
	if errors.As(err, &f) && f.Category != CategoryNone {
		return f.Category
	}
	return CategoryUnknown
}

// RetryPolicy is the explicit allow-list of failure categories eligible
// for automatic re-attempt. CategoryUnknown is never retryable regardless
// of configuration.
type RetryPolicy struct {
	Retryable []FailureCategory
}

// DefaultRetryPolicy returns the default allow-list: transient external
// failures only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retryable: []FailureCategory{
			CategoryNetworkError,
			CategoryTimeout,
			CategoryServiceUnavailable,
		},
	}
}

// Allows reports whether the category is eligible for retry under this
// policy.
func (p RetryPolicy) Allows(c FailureCategory) bool {
	if c == CategoryUnknown || c == CategoryNone {
		return false
	}
	for _, r := range p.Retryable {
		if r == c {
			return true
		}
	}
	return false
}

// RetryAttempt records one prior execution attempt of a job. The retry
// history is append-only and bounded.
type RetryAttempt struct {
	Attempt      int             `json:"attempt"`
	Reason       string          `json:"reason,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// maxRetryHistory bounds the retry history log; older attempts are
// discarded first.
const maxRetryHistory = 50

// JobRun represents one attempted or attemptable unit of work.
//
// A job may belong to a pipeline (PipelineID set) or run independently
// (PipelineID nil). The URN is a stable external correlation key and is
// used as the queue's de-duplication key so that a job is never
// double-queued by concurrent coordination passes.
type JobRun struct {
	conduct.Entity

	ID  id.JobID `json:"id"`
	URN string   `json:"urn"`

	JobType  string `json:"job_type"`
	Function string `json:"function"`

	PipelineID id.PipelineID `json:"pipeline_id,omitempty"`

	Status Status `json:"status"`

	Priority   int           `json:"priority"`
	MaxRetries int           `json:"max_retries"`
	RetryCount int           `json:"retry_count"`
	RetryDelay time.Duration `json:"retry_delay,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	ProgressCurrent int    `json:"progress_current"`
	ProgressTotal   int    `json:"progress_total"`
	ProgressMessage string `json:"progress_message,omitempty"`

	ErrorMessage    string          `json:"error_message,omitempty"`
	ErrorTrace      string          `json:"error_trace,omitempty"`
	FailureCategory FailureCategory `json:"failure_category,omitempty"`

	// Result holds the job body's declared output verbatim.
	Result json.RawMessage `json:"result,omitempty"`

	// RetryHistory is the append-only log of prior attempts.
	RetryHistory []RetryAttempt `json:"retry_history,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
}
