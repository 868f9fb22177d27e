package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/pipeline"
)

const pipelineColumns = `
	id, name, status, started_at, finished_at, correlation_id,
	created_at, updated_at`

// CreatePipeline persists a new pipeline.
func (s *session) CreatePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	tx, err := s.conn(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conduct_pipelines (
			id, name, status, started_at, finished_at, correlation_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, string(p.Status), p.StartedAt, p.FinishedAt, p.CorrelationID,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: create pipeline: %w", err)
	}
	return nil
}

// GetPipeline retrieves a pipeline by ID.
func (s *session) GetPipeline(ctx context.Context, pipelineID id.PipelineID) (*pipeline.Pipeline, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var (
		p      pipeline.Pipeline
		status string
	)
	err = tx.QueryRow(ctx,
		`SELECT `+pipelineColumns+` FROM conduct_pipelines WHERE id = $1`,
		pipelineID,
	).Scan(
		&p.ID, &p.Name, &status, &p.StartedAt, &p.FinishedAt, &p.CorrelationID,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrPipelineNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get pipeline: %w", err)
	}
	p.Status = pipeline.Status(status)
	return &p, nil
}

// UpdatePipeline persists changes to an existing pipeline.
func (s *session) UpdatePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	tx, err := s.conn(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE conduct_pipelines SET
			name = $2, status = $3, started_at = $4, finished_at = $5,
			correlation_id = $6, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Name, string(p.Status), p.StartedAt, p.FinishedAt, p.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: update pipeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrPipelineNotFound
	}
	return nil
}
