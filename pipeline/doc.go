// Package pipeline coordinates a DAG of job runs owned by one pipeline.
//
// # Coordination Model
//
// There is no scheduler thread. [Manager.Coordinate] is the single
// re-entry point, invoked after every job completion and after every
// explicit pipeline command. It recomputes the pipeline status from the
// histogram of its jobs' statuses ([DeriveStatus]), then acts on the
// outcome:
//
//   - failed or cancelled: remaining jobs are cancelled (running/queued)
//     or skipped (pending)
//   - running: pending jobs whose dependencies are satisfied are enqueued,
//     and the status is recomputed once more
//   - created, paused, succeeded, partial: nothing to do
//
// Because derivation is a pure recomputation and every per-job transition
// is guarded, redundant or concurrent coordination passes converge: a
// losing attempt surfaces a transition error that the lifecycle wrapper
// reports and discards.
//
// # Status Derivation
//
// [DeriveStatus] is total and idempotent. Terminal and paused pipelines
// are never reopened; a failed job makes the pipeline failed regardless of
// everything else; running or queued work keeps it running; pending-only
// histograms are deferred to the enqueue pass; and a fully resolved
// pipeline lands on succeeded, partial, or cancelled depending on whether
// succeeded jobs exist alongside cancelled or skipped ones.
//
// # Commands
//
// Start, Pause, Unpause, Cancel, and Restart guard on the current status
// and coordinate afterwards. The bulk retries (RetryFailedJobs,
// RetryUnsuccessfulJobs, RetryPipeline) revive terminal jobs back to
// pending with retry bookkeeping and set the pipeline running again.
package pipeline
