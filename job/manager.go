package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/id"
)

// Progress messages written by lifecycle transitions.
const (
	startedMessage  = "Job began execution"
	queuedMessage   = "Job queued for execution"
	retriedMessage  = "Job retry prepared"
)

// Manager drives the state machine of a single job run.
//
// Construction validates that the job exists; every operation re-fetches
// the current row inside the active transaction, mutates it, and flushes
// via the store — it never commits. The transaction boundary belongs to the
// caller (the lifecycle wrappers), so a crash mid-sequence rolls back the
// entire attempt rather than leaving a half-updated job.
//
// Manager is not safe for concurrent use; construct one per invocation.
type Manager struct {
	db     Store
	jobID  id.JobID
	policy RetryPolicy
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRetryPolicy sets the retryable-category allow-list consulted by
// ShouldRetry.
func WithRetryPolicy(p RetryPolicy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the structured logger for the manager.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager for the given job. It fails fast with a
// connection error if the job cannot be fetched.
func NewManager(ctx context.Context, db Store, jobID id.JobID, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		db:     db,
		jobID:  jobID,
		policy: DefaultRetryPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if _, err := m.Job(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// JobID returns the identifier of the managed job.
func (m *Manager) JobID() id.JobID { return m.jobID }

// Job fetches the current job row. Store failures are wrapped into a
// connection error.
func (m *Manager) Job(ctx context.Context) (*JobRun, error) {
	j, err := m.db.GetJob(ctx, m.jobID)
	if err != nil {
		return nil, fmt.Errorf("conduct/job: fetch job %s: %w: %w", m.jobID, conduct.ErrConnection, err)
	}
	return j, nil
}

// Status returns the job's current status.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	j, err := m.Job(ctx)
	if err != nil {
		return "", err
	}
	return j.Status, nil
}

// Start transitions the job from pending or queued to running, recording
// the start timestamp.
func (m *Manager) Start(ctx context.Context) error {
	j, err := m.Job(ctx)
	if err != nil {
		return err
	}

	if !j.Status.Startable() {
		m.logger.Error("invalid job start attempt",
			slog.String("job_id", m.jobID.String()),
			slog.String("status", string(j.Status)),
		)
		return fmt.Errorf("conduct/job: cannot start job %s from status %s: %w",
			m.jobID, j.Status, conduct.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
	j.ProgressMessage = startedMessage

	if err := m.flush(ctx, j, "start"); err != nil {
		return err
	}

	m.logger.Info("job marked as started",
		slog.String("job_id", m.jobID.String()),
		slog.String("urn", j.URN),
	)
	return nil
}

// Complete transitions the job to the given terminal status, recording the
// finish timestamp and the body's result. If jobErr is non-nil its message
// is stored and the failure category is taken from the error when it
// carries one (see CategoryOf), defaulting to unknown. Completing to
// failed with no error still defaults the category to unknown.
func (m *Manager) Complete(ctx context.Context, status Status, result json.RawMessage, jobErr error) error {
	if !status.Terminal() {
		m.logger.Error("invalid job completion status",
			slog.String("job_id", m.jobID.String()),
			slog.String("status", string(status)),
		)
		return fmt.Errorf("conduct/job: cannot complete job %s to non-terminal status %s: %w",
			m.jobID, status, conduct.ErrInvalidTransition)
	}

	j, err := m.Job(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	j.Status = status
	j.FinishedAt = &now
	j.Result = result

	if status == StatusFailed {
		j.FailureCategory = CategoryUnknown
	}
	if jobErr != nil {
		j.ErrorMessage = jobErr.Error()
		j.ErrorTrace = fmt.Sprintf("%+v", jobErr)
		j.FailureCategory = CategoryOf(jobErr)
	}

	if err := m.flush(ctx, j, "complete"); err != nil {
		return err
	}

	m.logger.Info("job marked as completed",
		slog.String("job_id", m.jobID.String()),
		slog.String("status", string(status)),
	)
	return nil
}

// Succeed marks the job as succeeded with the given result.
func (m *Manager) Succeed(ctx context.Context, result json.RawMessage) error {
	return m.Complete(ctx, StatusSucceeded, result, nil)
}

// Fail marks the job as failed, recording the error and any partial
// result.
func (m *Manager) Fail(ctx context.Context, jobErr error, result json.RawMessage) error {
	if jobErr == nil {
		return fmt.Errorf("conduct/job: fail job %s: an error is required: %w",
			m.jobID, conduct.ErrCorruptState)
	}
	return m.Complete(ctx, StatusFailed, result, jobErr)
}

// Cancel marks the job as cancelled.
func (m *Manager) Cancel(ctx context.Context, result json.RawMessage) error {
	return m.Complete(ctx, StatusCancelled, result, nil)
}

// Skip marks the job as skipped.
func (m *Manager) Skip(ctx context.Context, result json.RawMessage) error {
	return m.Complete(ctx, StatusSkipped, result, nil)
}

// PrepareRetry returns a failed job to pending, incrementing the retry
// counter and appending the prior attempt to the retry history. The job is
// not re-enqueued here; enqueueing belongs to pipeline coordination or the
// lifecycle wrapper.
func (m *Manager) PrepareRetry(ctx context.Context, reason string) error {
	return m.prepareRetry(ctx, reason, func(s Status) bool {
		return s == StatusFailed
	})
}

// PrepareRetryTerminal behaves like PrepareRetry but accepts any
// unsuccessful terminal status (failed, cancelled, skipped). Pipeline-level
// bulk retries use it to revive jobs that never got to fail on their own.
func (m *Manager) PrepareRetryTerminal(ctx context.Context, reason string) error {
	return m.prepareRetry(ctx, reason, func(s Status) bool {
		return s.Terminal() && s != StatusSucceeded
	})
}

func (m *Manager) prepareRetry(ctx context.Context, reason string, allowed func(Status) bool) error {
	j, err := m.Job(ctx)
	if err != nil {
		return err
	}

	if !allowed(j.Status) {
		m.logger.Error("invalid job retry attempt",
			slog.String("job_id", m.jobID.String()),
			slog.String("status", string(j.Status)),
		)
		return fmt.Errorf("conduct/job: cannot retry job %s from status %s: %w",
			m.jobID, j.Status, conduct.ErrInvalidTransition)
	}

	attempt := RetryAttempt{
		Attempt:      j.RetryCount + 1,
		Reason:       reason,
		ErrorMessage: j.ErrorMessage,
		Result:       j.Result,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		Timestamp:    time.Now().UTC(),
	}

	j.Status = StatusPending
	j.RetryCount++
	j.ProgressMessage = retriedMessage
	j.ErrorMessage = ""
	j.ErrorTrace = ""
	j.FailureCategory = CategoryNone
	j.StartedAt = nil
	j.FinishedAt = nil
	j.Result = nil

	j.RetryHistory = append(j.RetryHistory, attempt)
	if len(j.RetryHistory) > maxRetryHistory {
		j.RetryHistory = j.RetryHistory[len(j.RetryHistory)-maxRetryHistory:]
	}

	if err := m.flush(ctx, j, "prepare retry"); err != nil {
		return err
	}

	m.logger.Info("job prepared for retry",
		slog.String("job_id", m.jobID.String()),
		slog.Int("attempt", j.RetryCount),
	)
	return nil
}

// PrepareQueue transitions the job from pending to queued ahead of queue
// submission.
func (m *Manager) PrepareQueue(ctx context.Context) error {
	j, err := m.Job(ctx)
	if err != nil {
		return err
	}

	if j.Status != StatusPending {
		m.logger.Error("invalid job queue attempt",
			slog.String("job_id", m.jobID.String()),
			slog.String("status", string(j.Status)),
		)
		return fmt.Errorf("conduct/job: cannot queue job %s from status %s: %w",
			m.jobID, j.Status, conduct.ErrInvalidTransition)
	}

	j.Status = StatusQueued
	j.ProgressMessage = queuedMessage

	if err := m.flush(ctx, j, "prepare queue"); err != nil {
		return err
	}

	m.logger.Debug("job prepared for queueing", slog.String("job_id", m.jobID.String()))
	return nil
}

// Reset unconditionally returns the job to a pristine pending state:
// timing, progress, error fields, retry counter, and retry history are all
// cleared.
func (m *Manager) Reset(ctx context.Context) error {
	j, err := m.Job(ctx)
	if err != nil {
		return err
	}

	j.Status = StatusPending
	j.StartedAt = nil
	j.FinishedAt = nil
	j.ProgressCurrent = 0
	j.ProgressTotal = 0
	j.ProgressMessage = ""
	j.ErrorMessage = ""
	j.ErrorTrace = ""
	j.FailureCategory = CategoryNone
	j.RetryCount = 0
	j.Result = nil
	j.RetryHistory = nil

	if err := m.flush(ctx, j, "reset"); err != nil {
		return err
	}

	m.logger.Info("job reset to initial state", slog.String("job_id", m.jobID.String()))
	return nil
}

// UpdateProgress sets the current and total progress values. An empty
// message never overwrites the existing one.
func (m *Manager) UpdateProgress(ctx context.Context, current, total int, message string) error {
	j, err := m.Job(ctx)
	if err != nil {
		return err
	}

	j.ProgressCurrent = current
	j.ProgressTotal = total
	if message != "" {
		j.ProgressMessage = message
	}

	return m.flush(ctx, j, "update progress")
}

// IncrementProgress adds delta to the current progress value. An empty
// message never overwrites the existing one.
func (m *Manager) IncrementProgress(ctx context.Context, delta int, message string) error {
	j, err := m.Job(ctx)
	if err != nil {
		return err
	}

	j.ProgressCurrent += delta
	if message != "" {
		j.ProgressMessage = message
	}

	return m.flush(ctx, j, "increment progress")
}

// SetProgressTotal updates the total progress value, useful when the total
// only becomes known during execution.
func (m *Manager) SetProgressTotal(ctx context.Context, total int, message string) error {
	j, err := m.Job(ctx)
	if err != nil {
		return err
	}

	j.ProgressTotal = total
	if message != "" {
		j.ProgressMessage = message
	}

	return m.flush(ctx, j, "set progress total")
}

// UpdateStatusMessage replaces the progress message without touching
// progress values.
func (m *Manager) UpdateStatusMessage(ctx context.Context, message string) error {
	j, err := m.Job(ctx)
	if err != nil {
		return err
	}

	j.ProgressMessage = message

	return m.flush(ctx, j, "update status message")
}

// IsCancelled reports whether the job has been cancelled or skipped. Long
// running bodies poll this for cooperative shutdown.
func (m *Manager) IsCancelled(ctx context.Context) (bool, error) {
	j, err := m.Job(ctx)
	if err != nil {
		return false, err
	}
	return j.Status == StatusCancelled || j.Status == StatusSkipped, nil
}

// ShouldRetry reports whether the job is eligible for automatic retry:
// it must be failed, below its retry limit, and its failure category must
// be on the policy's allow-list. Unknown categories are never retryable.
func (m *Manager) ShouldRetry(ctx context.Context) (bool, error) {
	j, err := m.Job(ctx)
	if err != nil {
		return false, err
	}

	if j.Status != StatusFailed {
		m.logger.Debug("job not retryable: not failed",
			slog.String("job_id", m.jobID.String()),
			slog.String("status", string(j.Status)),
		)
		return false, nil
	}
	if j.RetryCount >= j.MaxRetries {
		m.logger.Debug("job not retryable: max retries reached",
			slog.String("job_id", m.jobID.String()),
			slog.Int("retry_count", j.RetryCount),
			slog.Int("max_retries", j.MaxRetries),
		)
		return false, nil
	}
	if !m.policy.Allows(j.FailureCategory) {
		m.logger.Debug("job not retryable: failure category not retryable",
			slog.String("job_id", m.jobID.String()),
			slog.String("failure_category", string(j.FailureCategory)),
		)
		return false, nil
	}

	return true, nil
}

// flush persists the mutated row. Store failures are wrapped into a state
// error naming the failed operation.
func (m *Manager) flush(ctx context.Context, j *JobRun, op string) error {
	if err := m.db.UpdateJob(ctx, j); err != nil {
		m.logger.Debug("failed to persist job state",
			slog.String("job_id", m.jobID.String()),
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("conduct/job: %s job %s: %w: %w", op, m.jobID, conduct.ErrCorruptState, err)
	}
	return nil
}
