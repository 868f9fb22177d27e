package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
)

const jobColumns = `
	id, urn, job_type, function, pipeline_id, status, priority,
	max_retries, retry_count, retry_delay,
	started_at, finished_at,
	progress_current, progress_total, progress_message,
	error_message, error_trace, failure_category,
	result, retry_history, correlation_id,
	created_at, updated_at`

// CreateJob persists a new job run.
func (s *session) CreateJob(ctx context.Context, j *job.JobRun) error {
	tx, err := s.conn(ctx)
	if err != nil {
		return err
	}

	history, err := marshalHistory(j.RetryHistory)
	if err != nil {
		return fmt.Errorf("conduct/postgres: create job: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conduct_jobs (
			id, urn, job_type, function, pipeline_id, status, priority,
			max_retries, retry_count, retry_delay,
			started_at, finished_at,
			progress_current, progress_total, progress_message,
			error_message, error_trace, failure_category,
			result, retry_history, correlation_id,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12,
			$13, $14, $15,
			$16, $17, $18,
			$19, $20, $21,
			$22, $23
		)`,
		j.ID, j.URN, j.JobType, j.Function, j.PipelineID, string(j.Status), j.Priority,
		j.MaxRetries, j.RetryCount, j.RetryDelay.Nanoseconds(),
		j.StartedAt, j.FinishedAt,
		j.ProgressCurrent, j.ProgressTotal, j.ProgressMessage,
		j.ErrorMessage, j.ErrorTrace, string(j.FailureCategory),
		[]byte(j.Result), history, j.CorrelationID,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.ErrJobAlreadyExists
		}
		return fmt.Errorf("conduct/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job run by ID.
func (s *session) GetJob(ctx context.Context, jobID id.JobID) (*job.JobRun, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conduct_jobs WHERE id = $1`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrJobNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job run.
func (s *session) UpdateJob(ctx context.Context, j *job.JobRun) error {
	tx, err := s.conn(ctx)
	if err != nil {
		return err
	}

	history, err := marshalHistory(j.RetryHistory)
	if err != nil {
		return fmt.Errorf("conduct/postgres: update job: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE conduct_jobs SET
			urn = $2, job_type = $3, function = $4, pipeline_id = $5,
			status = $6, priority = $7, max_retries = $8, retry_count = $9,
			retry_delay = $10, started_at = $11, finished_at = $12,
			progress_current = $13, progress_total = $14, progress_message = $15,
			error_message = $16, error_trace = $17, failure_category = $18,
			result = $19, retry_history = $20, correlation_id = $21,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID, j.URN, j.JobType, j.Function, j.PipelineID,
		string(j.Status), j.Priority, j.MaxRetries, j.RetryCount,
		j.RetryDelay.Nanoseconds(), j.StartedAt, j.FinishedAt,
		j.ProgressCurrent, j.ProgressTotal, j.ProgressMessage,
		j.ErrorMessage, j.ErrorTrace, string(j.FailureCategory),
		[]byte(j.Result), history, j.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrJobNotFound
	}
	return nil
}

// ListPipelineJobs returns the pipeline's jobs matching any of the given
// statuses, ordered by creation time.
func (s *session) ListPipelineJobs(ctx context.Context, pipelineID id.PipelineID, statuses ...job.Status) ([]*job.JobRun, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + jobColumns + ` FROM conduct_jobs WHERE pipeline_id = $1`
	args := []any{pipelineID}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` AND status = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: list pipeline jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountPipelineJobsByStatus returns a histogram of job statuses for the
// pipeline.
func (s *session) CountPipelineJobsByStatus(ctx context.Context, pipelineID id.PipelineID) (map[job.Status]int, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT status, COUNT(*)
		FROM conduct_jobs
		WHERE pipeline_id = $1
		GROUP BY status`,
		pipelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: count pipeline jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("conduct/postgres: count pipeline jobs: %w", err)
		}
		counts[job.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conduct/postgres: count pipeline jobs: %w", err)
	}
	return counts, nil
}

// FindActiveJobByFunction returns the most recent non-terminal job run for
// the given function name, or nil if none exists.
func (s *session) FindActiveJobByFunction(ctx context.Context, function string) (*job.JobRun, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM conduct_jobs
		WHERE function = $1 AND status IN ('pending', 'queued', 'running')
		ORDER BY created_at DESC
		LIMIT 1`,
		function,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conduct/postgres: find active job: %w", err)
	}
	return j, nil
}

// scanJob reads one job row in jobColumns order.
func scanJob(row pgx.Row) (*job.JobRun, error) {
	var (
		j          job.JobRun
		status     string
		category   string
		retryDelay int64
		result     []byte
		history    []byte
	)

	err := row.Scan(
		&j.ID, &j.URN, &j.JobType, &j.Function, &j.PipelineID, &status, &j.Priority,
		&j.MaxRetries, &j.RetryCount, &retryDelay,
		&j.StartedAt, &j.FinishedAt,
		&j.ProgressCurrent, &j.ProgressTotal, &j.ProgressMessage,
		&j.ErrorMessage, &j.ErrorTrace, &category,
		&result, &history, &j.CorrelationID,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(status)
	j.FailureCategory = job.FailureCategory(category)
	j.RetryDelay = time.Duration(retryDelay)
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &j.RetryHistory); err != nil {
			return nil, fmt.Errorf("%w: retry history: %w", conduct.ErrCorruptState, err)
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.JobRun, error) {
	var jobs []*job.JobRun
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conduct/postgres: iterate jobs: %w", err)
	}
	return jobs, nil
}

// marshalHistory encodes the retry history for the jsonb column. An empty
// history stores NULL.
func marshalHistory(history []job.RetryAttempt) ([]byte, error) {
	if len(history) == 0 {
		return nil, nil
	}
	return json.Marshal(history)
}
