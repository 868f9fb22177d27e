package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/pipeline"
)

// CreatePipeline persists a new pipeline.
func (s *session) CreatePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if _, err := db.NewInsert().Model(toPipelineModel(p)).Exec(ctx); err != nil {
		return fmt.Errorf("conduct/bun: create pipeline: %w", err)
	}
	return nil
}

// GetPipeline retrieves a pipeline by ID.
func (s *session) GetPipeline(ctx context.Context, pipelineID id.PipelineID) (*pipeline.Pipeline, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	m := new(pipelineModel)
	err = db.NewSelect().Model(m).
		Where("id = ?", pipelineID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrPipelineNotFound
		}
		return nil, fmt.Errorf("conduct/bun: get pipeline: %w", err)
	}
	return fromPipelineModel(m)
}

// UpdatePipeline persists changes to an existing pipeline.
func (s *session) UpdatePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	m := toPipelineModel(p)
	m.UpdatedAt = time.Now().UTC()
	res, err := db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("conduct/bun: update pipeline: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conduct.ErrPipelineNotFound
	}
	return nil
}
