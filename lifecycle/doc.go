// Package lifecycle binds domain job bodies to the job and pipeline state
// machines. It is the concurrency-safety-critical glue between the queue,
// the datastore, and the orchestration managers.
//
// # Execution Context
//
// A [Context] is built fresh for every invocation: one transactional
// session, the queue handle, the alert channel, and a correlation id.
// Nothing is process-global. The runners own the session's commit
// boundary — managers only flush, so a crash mid-sequence rolls back the
// entire attempt.
//
// # Never-Raise Boundary
//
// Past context validation, [JobRunner.Run] and [PipelineRunner.Run]
// convert every orchestration error (transition races, lost connections,
// coordination failures) into a structured [Result] after reporting it to
// the alert channel. A worker process must never crash because a pipeline
// failed to coordinate; the job's own committed terminal state must never
// go unreported.
//
// # Typical Flow
//
//	session, _ := db.Begin(ctx)
//	defer session.Rollback(ctx)
//
//	runner := lifecycle.PipelineRunner{Job: lifecycle.JobRunner{
//	    Context: lifecycle.Context{DB: session, Queue: q, Alerts: alerts},
//	    Middleware: []middleware.Middleware{
//	        middleware.Logging(logger),
//	        middleware.Recover(logger),
//	        middleware.Tracing(),
//	    },
//	}}
//	result := runner.Run(ctx, jobID, body)
package lifecycle
