package dependency

import (
	"context"

	"github.com/xraph/conduct/id"
)

// Store defines the persistence contract for dependency edges.
type Store interface {
	// CreateDependency persists a new edge.
	CreateDependency(ctx context.Context, d *Dependency) error

	// ListDependenciesForJob returns the edges the given job waits on,
	// with the upstream job resolved on each edge.
	ListDependenciesForJob(ctx context.Context, jobID id.JobID) ([]Edge, error)
}
