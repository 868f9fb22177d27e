package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
)

// CreateJob persists a new job run.
func (s *session) CreateJob(ctx context.Context, j *job.JobRun) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	m, err := toJobModel(j)
	if err != nil {
		return err
	}
	if _, err := db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return conduct.ErrJobAlreadyExists
		}
		return fmt.Errorf("conduct/bun: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job run by ID.
func (s *session) GetJob(ctx context.Context, jobID id.JobID) (*job.JobRun, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	m := new(jobModel)
	err = db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrJobNotFound
		}
		return nil, fmt.Errorf("conduct/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateJob persists changes to an existing job run.
func (s *session) UpdateJob(ctx context.Context, j *job.JobRun) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	m, err := toJobModel(j)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()
	res, err := db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("conduct/bun: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conduct.ErrJobNotFound
	}
	return nil
}

// ListPipelineJobs returns the pipeline's jobs matching any of the given
// statuses, ordered by creation time.
func (s *session) ListPipelineJobs(ctx context.Context, pipelineID id.PipelineID, statuses ...job.Status) ([]*job.JobRun, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var models []jobModel
	q := db.NewSelect().Model(&models).
		Where("pipeline_id = ?", pipelineID.String())
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		q = q.Where("status IN (?)", bun.In(names))
	}
	if err := q.Order("created_at ASC", "id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("conduct/bun: list pipeline jobs: %w", err)
	}

	jobs := make([]*job.JobRun, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountPipelineJobsByStatus returns a histogram of job statuses for the
// pipeline.
func (s *session) CountPipelineJobsByStatus(ctx context.Context, pipelineID id.PipelineID) (map[job.Status]int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err = db.NewSelect().
		TableExpr("conduct_jobs").
		ColumnExpr("status, COUNT(*) AS count").
		Where("pipeline_id = ?", pipelineID.String()).
		GroupExpr("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: count pipeline jobs: %w", err)
	}

	counts := make(map[job.Status]int, len(rows))
	for _, r := range rows {
		counts[job.Status(r.Status)] = r.Count
	}
	return counts, nil
}

// FindActiveJobByFunction returns the most recent non-terminal job run for
// the given function name, or nil if none exists.
func (s *session) FindActiveJobByFunction(ctx context.Context, function string) (*job.JobRun, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	m := new(jobModel)
	err = db.NewSelect().Model(m).
		Where("function = ?", function).
		Where("status IN (?)", bun.In([]string{
			string(job.StatusPending), string(job.StatusQueued), string(job.StatusRunning),
		})).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conduct/bun: find active job: %w", err)
	}
	return fromJobModel(m)
}
