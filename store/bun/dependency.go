package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/dependency"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
)

// CreateDependency persists a new dependency edge.
func (s *session) CreateDependency(ctx context.Context, d *dependency.Dependency) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if _, err := db.NewInsert().Model(toDependencyModel(d)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return conduct.ErrJobAlreadyExists
		}
		return fmt.Errorf("conduct/bun: create dependency: %w", err)
	}
	return nil
}

// ListDependenciesForJob returns the edges the given job waits on, with
// the upstream job resolved on each edge. Edges and upstream rows are
// fetched in two queries inside the session's transaction.
func (s *session) ListDependenciesForJob(ctx context.Context, jobID id.JobID) ([]dependency.Edge, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var depModels []dependencyModel
	err = db.NewSelect().Model(&depModels).
		Where("job_id = ?", jobID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: list dependencies: %w", err)
	}
	if len(depModels) == 0 {
		return nil, nil
	}

	upstreamIDs := make([]string, len(depModels))
	for i := range depModels {
		upstreamIDs[i] = depModels[i].DependsOnID
	}

	var jobModels []jobModel
	err = db.NewSelect().Model(&jobModels).
		Where("id IN (?)", bun.In(upstreamIDs)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: list upstream jobs: %w", err)
	}

	upstream := make(map[string]*job.JobRun, len(jobModels))
	for i := range jobModels {
		j, convErr := fromJobModel(&jobModels[i])
		if convErr != nil {
			return nil, convErr
		}
		upstream[jobModels[i].ID] = j
	}

	edges := make([]dependency.Edge, 0, len(depModels))
	for i := range depModels {
		d, convErr := fromDependencyModel(&depModels[i])
		if convErr != nil {
			return nil, convErr
		}
		edges = append(edges, dependency.Edge{
			Dependency: d,
			DependsOn:  upstream[depModels[i].DependsOnID],
		})
	}
	return edges, nil
}
