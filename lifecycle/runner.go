package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
	"github.com/xraph/conduct/middleware"
)

// Body is the opaque domain callable bound to a job. Its return value is
// stored verbatim as the job's result.
type Body func(ctx context.Context, jobID id.JobID) (json.RawMessage, error)

// JobRunner binds a domain body to the single-job state machine.
//
// Run validates the execution context, starts the job, invokes the body
// through the middleware chain, and records the terminal outcome: succeed
// on normal return; on failure either prepare a retry and re-submit to the
// queue, or fail terminally. Every orchestration error past context
// validation (a transition race, a lost connection) is reported to the
// alert channel and converted into an exception result — Run never
// panics the worker and, past validation, never returns an error.
type JobRunner struct {
	Context Context

	// Policy is the retryable-category allow-list. Zero value means the
	// default policy.
	Policy job.RetryPolicy

	// Middleware wraps the body invocation, outermost first.
	Middleware []middleware.Middleware
}

// Run executes the body against the job's state machine and returns the
// structured outcome. The returned error is non-nil only for a
// misconfigured context or a nil job id.
func (r *JobRunner) Run(ctx context.Context, jobID id.JobID, body Body) (Result, error) {
	if err := r.Context.validate(); err != nil {
		return Result{}, err
	}
	if jobID.IsNil() {
		return Result{}, fmt.Errorf("lifecycle: job id is required: %w", conduct.ErrCorruptState)
	}
	if len(r.Policy.Retryable) == 0 {
		r.Policy = job.DefaultRetryPolicy()
	}

	mgr, err := job.NewManager(ctx, r.Context.DB, jobID,
		job.WithRetryPolicy(r.Policy),
		job.WithLogger(r.Context.Logger),
	)
	if err != nil {
		return r.exception(ctx, jobID, "job.resolve", err), nil
	}

	// A job cancelled or skipped while queued must not execute.
	current, err := mgr.Job(ctx)
	if err != nil {
		return r.exception(ctx, jobID, "job.resolve", err), nil
	}
	switch current.Status {
	case job.StatusCancelled:
		return Result{Status: ResultCancelled, JobID: jobID}, nil
	case job.StatusSkipped:
		return Result{Status: ResultSkipped, JobID: jobID}, nil
	}

	if err := mgr.Start(ctx); err != nil {
		return r.exception(ctx, jobID, "job.start", err), nil
	}
	// Commit so the running status is visible while the body executes.
	if err := r.Context.DB.Commit(ctx); err != nil {
		return r.exception(ctx, jobID, "session.commit", err), nil
	}

	chain := middleware.Chain(r.Middleware...)
	output, bodyErr := chain(ctx, current, func(ctx context.Context) (json.RawMessage, error) {
		return body(ctx, jobID)
	})

	if bodyErr == nil {
		if err := mgr.Succeed(ctx, output); err != nil {
			return r.exception(ctx, jobID, "job.succeed", err), nil
		}
		if err := r.Context.DB.Commit(ctx); err != nil {
			return r.exception(ctx, jobID, "session.commit", err), nil
		}
		return Result{Status: ResultSucceeded, JobID: jobID, Output: output}, nil
	}

	if err := mgr.Fail(ctx, bodyErr, output); err != nil {
		return r.exception(ctx, jobID, "job.fail", err), nil
	}

	retry, err := mgr.ShouldRetry(ctx)
	if err != nil {
		return r.exception(ctx, jobID, "job.should_retry", err), nil
	}
	if !retry {
		if err := r.Context.DB.Commit(ctx); err != nil {
			return r.exception(ctx, jobID, "session.commit", err), nil
		}
		return Result{Status: ResultFailed, JobID: jobID, Output: output, Error: bodyErr.Error()}, nil
	}

	if err := mgr.PrepareRetry(ctx, bodyErr.Error()); err != nil {
		return r.exception(ctx, jobID, "job.prepare_retry", err), nil
	}
	if err := mgr.PrepareQueue(ctx); err != nil {
		return r.exception(ctx, jobID, "job.prepare_queue", err), nil
	}

	j, err := mgr.Job(ctx)
	if err != nil {
		return r.exception(ctx, jobID, "job.resolve", err), nil
	}
	if _, err := r.Context.Queue.Enqueue(ctx, j.Function, jobID, j.RetryDelay, j.URN); err != nil {
		return r.exception(ctx, jobID, "queue.enqueue", err), nil
	}
	if err := r.Context.DB.Commit(ctx); err != nil {
		return r.exception(ctx, jobID, "session.commit", err), nil
	}

	r.Context.Logger.Info("job re-submitted for retry",
		slog.String("job_id", jobID.String()),
		slog.Int("attempt", j.RetryCount),
		slog.Duration("defer_by", j.RetryDelay),
	)
	return Result{Status: ResultRetried, JobID: jobID, Error: bodyErr.Error()}, nil
}

// exception rolls back the session, reports the error, and maps it to an
// exception result.
func (r *JobRunner) exception(ctx context.Context, jobID id.JobID, op string, err error) Result {
	if rbErr := r.Context.DB.Rollback(ctx); rbErr != nil {
		r.Context.Logger.Error("session rollback failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", rbErr.Error()),
		)
	}
	r.Context.Alerts.Notify(ctx, alertEvent(op, jobID, id.Nil, r.Context.CorrelationID, err))
	return Result{Status: ResultException, JobID: jobID, Error: err.Error()}
}
