// Package job defines the job entity, its status and failure taxonomies,
// and the Manager that drives the single-job state machine.
//
// # Job Entity
//
// A [JobRun] represents one unit of work. It embeds [conduct.Entity] for
// timestamps, carries a typed result (JSON), and progresses through a
// status machine:
//
//	pending → queued → running → succeeded
//	pending → queued → running → failed → pending → ...   (retry)
//	pending → queued → running → cancelled
//	pending → skipped                                     (dependency failure)
//
// Fields of note:
//   - URN: globally unique resource name, used as the queue idempotency key
//   - Function: name of the registered body the worker invokes
//   - PipelineID: owning pipeline, nil for standalone jobs
//   - MaxRetries / RetryCount / RetryDelay: controls the retry budget
//   - FailureCategory: machine-readable failure classification
//   - RetryHistory: bounded record of prior attempts
//
// # Manager
//
// [Manager] owns every status transition for one job. Each operation
// fetches the current row, checks the transition guard, mutates, and
// flushes through the [Store] — it never commits; the enclosing
// transaction belongs to the caller:
//
//	mgr, err := job.NewManager(ctx, session, jobID)
//	if err != nil { ... }
//	if err := mgr.Start(ctx); err != nil { ... }
//	// ... run the body ...
//	if err := mgr.Succeed(ctx, result); err != nil { ... }
//
// # Retry Policy
//
// [RetryPolicy] is an allow-list of [FailureCategory] values eligible for
// automatic retry. [DefaultRetryPolicy] covers transient infrastructure
// failures (network errors, timeouts, unavailable services); permanent
// failures such as validation and configuration errors are never retried,
// and unknown categories are always excluded.
package job
