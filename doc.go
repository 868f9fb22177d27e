// Package conduct provides a transactional job and pipeline orchestration
// engine for Go. It coordinates directed-acyclic-graphs of retryable jobs
// grouped into pipelines, backed by a transactional datastore and an
// external task queue.
//
// Conduct is designed as a library, not a service. Import it, configure a
// store and a queue, and register domain job bodies as ordinary Go
// functions.
//
// # Quick Start
//
//	st, err := postgres.New(ctx, connString)
//	q := redisqueue.New(redisClient)
//
//	reg := worker.NewRegistry()
//	reg.Register("process-scores", processScores)
//
//	pool := worker.NewPool(st, q, q, reg, worker.WithLogger(logger))
//	pool.Start(ctx)
//
// # Architecture
//
// Conduct follows a composable store pattern where each subsystem (job,
// pipeline, dependency) defines its own store interface. A single backend
// implements all of them and hands out transaction-scoped sessions: the
// managers mutate state within a session and never commit. The lifecycle
// wrappers own the transaction boundary, so a crash mid-sequence rolls
// back the entire attempt rather than leaving a half-updated job.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conduct
