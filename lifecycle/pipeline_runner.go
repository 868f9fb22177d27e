package lifecycle

import (
	"context"
	"log/slog"

	"github.com/xraph/conduct/alert"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/pipeline"
)

// PipelineRunner wraps a JobRunner with pipeline coordination. It is the
// outermost execution wrapper the worker pool invokes.
//
// Run resolves the job's pipeline: a standalone job passes straight
// through to the inner JobRunner. For pipeline jobs it starts a created
// pipeline (without coordinating — enqueue logic stays in the post-step),
// runs the job, and coordinates afterwards regardless of the job's
// outcome. Every failure of construction, coordination, or context
// validation is reported to the alert channel and mapped to an exception
// result: a coordination failure must never crash the worker or leave the
// job's own already-committed terminal state unreported.
type PipelineRunner struct {
	Job JobRunner
}

// Run executes the job under pipeline coordination. It always returns a
// Result, never an error.
func (r *PipelineRunner) Run(ctx context.Context, jobID id.JobID, body Body) Result {
	if err := r.Job.Context.validate(); err != nil {
		return r.exception(ctx, jobID, id.Nil, "context.validate", err)
	}

	c := &r.Job.Context

	j, err := c.DB.GetJob(ctx, jobID)
	if err != nil {
		return r.exception(ctx, jobID, id.Nil, "job.resolve", err)
	}

	if j.PipelineID.IsNil() {
		result, err := r.Job.Run(ctx, jobID, body)
		if err != nil {
			return r.exception(ctx, jobID, id.Nil, "job.run", err)
		}
		return result
	}

	pm, err := pipeline.NewManager(ctx, c.DB, j.PipelineID,
		pipeline.WithQueue(c.Queue),
		pipeline.WithRetryPolicy(r.Job.Policy),
		pipeline.WithLogger(c.Logger),
	)
	if err != nil {
		return r.exception(ctx, jobID, j.PipelineID, "pipeline.resolve", err)
	}

	// The very first job of a pipeline may arrive before anything started
	// it. Coordination is deferred to the post-step below so enqueue logic
	// stays in one place.
	p, err := pm.Pipeline(ctx)
	if err != nil {
		return r.exception(ctx, jobID, j.PipelineID, "pipeline.resolve", err)
	}
	if p.Status == pipeline.StatusCreated {
		if err := pm.Start(ctx, false); err != nil {
			return r.exception(ctx, jobID, j.PipelineID, "pipeline.start", err)
		}
	}

	result, err := r.Job.Run(ctx, jobID, body)
	if err != nil {
		result = r.exception(ctx, jobID, j.PipelineID, "job.run", err)
	}

	// Coordinate regardless of the job's outcome: its terminal state is
	// already committed and the rest of the DAG must react to it.
	if err := pm.Coordinate(ctx); err != nil {
		return r.coordinationFailure(ctx, pm, result, jobID, j.PipelineID, err)
	}
	if err := c.DB.Commit(ctx); err != nil {
		return r.coordinationFailure(ctx, pm, result, jobID, j.PipelineID, err)
	}

	return result
}

// coordinationFailure rolls back the failed pass, attempts one final
// cleanup coordination so the pipeline is not left stuck, and reports the
// original error. The job's own result is preserved when it completed.
func (r *PipelineRunner) coordinationFailure(ctx context.Context, pm *pipeline.Manager, result Result, jobID id.JobID, pipelineID id.PipelineID, err error) Result {
	c := &r.Job.Context

	if rbErr := c.DB.Rollback(ctx); rbErr != nil {
		c.Logger.Error("session rollback failed",
			slog.String("pipeline_id", pipelineID.String()),
			slog.String("error", rbErr.Error()),
		)
	}

	if cleanupErr := pm.Coordinate(ctx); cleanupErr != nil {
		c.Logger.Error("cleanup coordination failed",
			slog.String("pipeline_id", pipelineID.String()),
			slog.String("error", cleanupErr.Error()),
		)
	} else if commitErr := c.DB.Commit(ctx); commitErr != nil {
		c.Logger.Error("cleanup commit failed",
			slog.String("pipeline_id", pipelineID.String()),
			slog.String("error", commitErr.Error()),
		)
	}

	c.Alerts.Notify(ctx, alertEvent("pipeline.coordinate", jobID, pipelineID, c.CorrelationID, err))

	if result.Status != "" {
		// The job itself completed; its outcome stands.
		return result
	}
	return Result{Status: ResultException, JobID: jobID, Error: err.Error()}
}

func (r *PipelineRunner) exception(ctx context.Context, jobID id.JobID, pipelineID id.PipelineID, op string, err error) Result {
	c := &r.Job.Context
	if c.Alerts != nil {
		c.Alerts.Notify(ctx, alertEvent(op, jobID, pipelineID, c.CorrelationID, err))
	} else {
		slog.Default().Error("orchestration error with no alert channel",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
	return Result{Status: ResultException, JobID: jobID, Error: err.Error()}
}

func alertEvent(op string, jobID id.JobID, pipelineID id.PipelineID, correlationID string, err error) alert.Event {
	return alert.Event{
		Op:            op,
		JobID:         jobID,
		PipelineID:    pipelineID,
		CorrelationID: correlationID,
		Err:           err,
	}
}
