package pipeline

import (
	"context"

	"github.com/xraph/conduct/dependency"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
)

// Store defines the persistence contract for pipelines. All methods
// operate within the caller's transaction scope; implementations flush
// writes but never commit.
type Store interface {
	// CreatePipeline persists a new pipeline.
	CreatePipeline(ctx context.Context, p *Pipeline) error

	// GetPipeline retrieves a pipeline by ID.
	GetPipeline(ctx context.Context, pipelineID id.PipelineID) (*Pipeline, error)

	// UpdatePipeline persists changes to an existing pipeline.
	UpdatePipeline(ctx context.Context, p *Pipeline) error
}

// Datastore is the full persistence surface coordination needs: the
// pipeline row, its jobs, and their dependency edges, all inside one
// transaction. store.Session satisfies it.
type Datastore interface {
	job.Store
	Store
	dependency.Store
}
