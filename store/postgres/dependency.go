package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/dependency"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
)

// CreateDependency persists a new dependency edge.
func (s *session) CreateDependency(ctx context.Context, d *dependency.Dependency) error {
	tx, err := s.conn(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conduct_dependencies (
			job_id, depends_on_id, type, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5)`,
		d.JobID, d.DependsOnID, string(d.Type), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.ErrJobAlreadyExists
		}
		return fmt.Errorf("conduct/postgres: create dependency: %w", err)
	}
	return nil
}

// ListDependenciesForJob returns the edges the given job waits on, with
// the upstream job row resolved on each edge.
func (s *session) ListDependenciesForJob(ctx context.Context, jobID id.JobID) ([]dependency.Edge, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT
			d.job_id, d.depends_on_id, d.type, d.created_at, d.updated_at,
			j.id, j.urn, j.job_type, j.function, j.pipeline_id, j.status, j.priority,
			j.max_retries, j.retry_count, j.retry_delay,
			j.started_at, j.finished_at,
			j.progress_current, j.progress_total, j.progress_message,
			j.error_message, j.error_trace, j.failure_category,
			j.result, j.retry_history, j.correlation_id,
			j.created_at, j.updated_at
		FROM conduct_dependencies d
		JOIN conduct_jobs j ON j.id = d.depends_on_id
		WHERE d.job_id = $1
		ORDER BY d.created_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: list dependencies: %w", err)
	}
	defer rows.Close()

	var edges []dependency.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan dependency: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conduct/postgres: iterate dependencies: %w", err)
	}
	return edges, nil
}

// scanEdge reads one dependency row joined with its upstream job.
func scanEdge(rows pgx.Rows) (dependency.Edge, error) {
	var (
		e          dependency.Edge
		edgeType   string
		upstream   job.JobRun
		status     string
		category   string
		retryDelay int64
		result     []byte
		history    []byte
	)

	err := rows.Scan(
		&e.JobID, &e.DependsOnID, &edgeType, &e.CreatedAt, &e.UpdatedAt,
		&upstream.ID, &upstream.URN, &upstream.JobType, &upstream.Function,
		&upstream.PipelineID, &status, &upstream.Priority,
		&upstream.MaxRetries, &upstream.RetryCount, &retryDelay,
		&upstream.StartedAt, &upstream.FinishedAt,
		&upstream.ProgressCurrent, &upstream.ProgressTotal, &upstream.ProgressMessage,
		&upstream.ErrorMessage, &upstream.ErrorTrace, &category,
		&result, &history, &upstream.CorrelationID,
		&upstream.CreatedAt, &upstream.UpdatedAt,
	)
	if err != nil {
		return dependency.Edge{}, err
	}

	e.Type = dependency.Type(edgeType)
	upstream.Status = job.Status(status)
	upstream.FailureCategory = job.FailureCategory(category)
	upstream.RetryDelay = time.Duration(retryDelay)
	if len(result) > 0 {
		upstream.Result = json.RawMessage(result)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &upstream.RetryHistory); err != nil {
			return dependency.Edge{}, fmt.Errorf("%w: retry history: %w", conduct.ErrCorruptState, err)
		}
	}
	e.DependsOn = &upstream
	return e, nil
}
