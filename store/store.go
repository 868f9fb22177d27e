// Package store defines the aggregate persistence interface. Each
// subsystem (job, pipeline, dependency) defines its own store interface;
// a [Session] composes them all inside one transaction. Backends:
// Postgres (pgx), Bun, and Memory.
package store

import (
	"context"

	"github.com/xraph/conduct/dependency"
	"github.com/xraph/conduct/job"
	"github.com/xraph/conduct/pipeline"
)

// Store is the session factory plus backend lifecycle. A single backend
// (postgres, bun, memory) implements it.
type Store interface {
	// Begin opens a transactional session. The caller owns the boundary:
	// commit on success, roll back on failure.
	Begin(ctx context.Context) (Session, error)

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the backend connection.
	Close() error
}

// Session is one transaction over the full persistence surface. Subsystem
// operations flush; only Commit makes them durable. Managers never call
// Commit — the lifecycle wrapper owns the transaction boundary so a crash
// mid-sequence rolls back the entire attempt.
//
// Commit may be called more than once within a session: implementations
// start a fresh transaction for the operations that follow, mirroring a
// session-per-invocation model. Rollback discards only work since the
// last Commit.
type Session interface {
	job.Store
	pipeline.Store
	dependency.Store

	// Commit makes the session's pending writes durable.
	Commit(ctx context.Context) error

	// Rollback discards the session's pending writes. Safe to call after
	// Commit (a no-op when nothing is pending).
	Rollback(ctx context.Context) error
}

var _ pipeline.Datastore = (Session)(nil)
