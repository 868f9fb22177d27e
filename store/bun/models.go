package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/dependency"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
	"github.com/xraph/conduct/pipeline"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:conduct_jobs"`

	ID              string     `bun:"id,pk"`
	URN             string     `bun:"urn,notnull"`
	JobType         string     `bun:"job_type,notnull,default:''"`
	Function        string     `bun:"function,notnull"`
	PipelineID      string     `bun:"pipeline_id,nullzero"`
	Status          string     `bun:"status,notnull,default:'pending'"`
	Priority        int        `bun:"priority,notnull,default:0"`
	MaxRetries      int        `bun:"max_retries,notnull,default:0"`
	RetryCount      int        `bun:"retry_count,notnull,default:0"`
	RetryDelay      int64      `bun:"retry_delay,notnull,default:0"`
	StartedAt       *time.Time `bun:"started_at"`
	FinishedAt      *time.Time `bun:"finished_at"`
	ProgressCurrent int        `bun:"progress_current,notnull,default:0"`
	ProgressTotal   int        `bun:"progress_total,notnull,default:0"`
	ProgressMessage string     `bun:"progress_message,notnull,default:''"`
	ErrorMessage    string     `bun:"error_message,notnull,default:''"`
	ErrorTrace      string     `bun:"error_trace,notnull,default:''"`
	FailureCategory string     `bun:"failure_category,notnull,default:''"`
	Result          []byte     `bun:"result,nullzero,type:jsonb"`
	RetryHistory    []byte     `bun:"retry_history,nullzero,type:jsonb"`
	CorrelationID   string     `bun:"correlation_id,notnull,default:''"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.JobRun) (*jobModel, error) {
	var history []byte
	if len(j.RetryHistory) > 0 {
		encoded, err := json.Marshal(j.RetryHistory)
		if err != nil {
			return nil, fmt.Errorf("conduct/bun: encode retry history: %w", err)
		}
		history = encoded
	}

	m := &jobModel{
		ID:              j.ID.String(),
		URN:             j.URN,
		JobType:         j.JobType,
		Function:        j.Function,
		Status:          string(j.Status),
		Priority:        j.Priority,
		MaxRetries:      j.MaxRetries,
		RetryCount:      j.RetryCount,
		RetryDelay:      j.RetryDelay.Nanoseconds(),
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
		ProgressCurrent: j.ProgressCurrent,
		ProgressTotal:   j.ProgressTotal,
		ProgressMessage: j.ProgressMessage,
		ErrorMessage:    j.ErrorMessage,
		ErrorTrace:      j.ErrorTrace,
		FailureCategory: string(j.FailureCategory),
		Result:          []byte(j.Result),
		RetryHistory:    history,
		CorrelationID:   j.CorrelationID,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	if !j.PipelineID.IsNil() {
		m.PipelineID = j.PipelineID.String()
	}
	return m, nil
}

func fromJobModel(m *jobModel) (*job.JobRun, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.JobRun{
		Entity: conduct.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              parsedID,
		URN:             m.URN,
		JobType:         m.JobType,
		Function:        m.Function,
		Status:          job.Status(m.Status),
		Priority:        m.Priority,
		MaxRetries:      m.MaxRetries,
		RetryCount:      m.RetryCount,
		RetryDelay:      time.Duration(m.RetryDelay),
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
		ProgressCurrent: m.ProgressCurrent,
		ProgressTotal:   m.ProgressTotal,
		ProgressMessage: m.ProgressMessage,
		ErrorMessage:    m.ErrorMessage,
		ErrorTrace:      m.ErrorTrace,
		FailureCategory: job.FailureCategory(m.FailureCategory),
		CorrelationID:   m.CorrelationID,
	}

	if m.PipelineID != "" {
		parsed, err := id.ParsePipelineID(m.PipelineID)
		if err != nil {
			return nil, fmt.Errorf("conduct/bun: parse pipeline id %q: %w", m.PipelineID, err)
		}
		j.PipelineID = parsed
	}
	if len(m.Result) > 0 {
		j.Result = json.RawMessage(m.Result)
	}
	if len(m.RetryHistory) > 0 {
		if err := json.Unmarshal(m.RetryHistory, &j.RetryHistory); err != nil {
			return nil, fmt.Errorf("%w: retry history: %w", conduct.ErrCorruptState, err)
		}
	}
	return j, nil
}

// ── Pipeline model ────────────────────────────────────────────────

type pipelineModel struct {
	bun.BaseModel `bun:"table:conduct_pipelines"`

	ID            string     `bun:"id,pk"`
	Name          string     `bun:"name,notnull"`
	Status        string     `bun:"status,notnull,default:'created'"`
	StartedAt     *time.Time `bun:"started_at"`
	FinishedAt    *time.Time `bun:"finished_at"`
	CorrelationID string     `bun:"correlation_id,notnull,default:''"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toPipelineModel(p *pipeline.Pipeline) *pipelineModel {
	return &pipelineModel{
		ID:            p.ID.String(),
		Name:          p.Name,
		Status:        string(p.Status),
		StartedAt:     p.StartedAt,
		FinishedAt:    p.FinishedAt,
		CorrelationID: p.CorrelationID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func fromPipelineModel(m *pipelineModel) (*pipeline.Pipeline, error) {
	parsedID, err := id.ParsePipelineID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: parse pipeline id %q: %w", m.ID, err)
	}

	return &pipeline.Pipeline{
		Entity: conduct.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            parsedID,
		Name:          m.Name,
		Status:        pipeline.Status(m.Status),
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
		CorrelationID: m.CorrelationID,
	}, nil
}

// ── Dependency model ──────────────────────────────────────────────

type dependencyModel struct {
	bun.BaseModel `bun:"table:conduct_dependencies"`

	JobID       string    `bun:"job_id,pk"`
	DependsOnID string    `bun:"depends_on_id,pk"`
	Type        string    `bun:"type,notnull,default:'success_required'"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toDependencyModel(d *dependency.Dependency) *dependencyModel {
	return &dependencyModel{
		JobID:       d.JobID.String(),
		DependsOnID: d.DependsOnID.String(),
		Type:        string(d.Type),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func fromDependencyModel(m *dependencyModel) (dependency.Dependency, error) {
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return dependency.Dependency{}, fmt.Errorf("conduct/bun: parse job id %q: %w", m.JobID, err)
	}
	dependsOnID, err := id.ParseJobID(m.DependsOnID)
	if err != nil {
		return dependency.Dependency{}, fmt.Errorf("conduct/bun: parse job id %q: %w", m.DependsOnID, err)
	}

	return dependency.Dependency{
		Entity: conduct.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		JobID:       jobID,
		DependsOnID: dependsOnID,
		Type:        dependency.Type(m.Type),
	}, nil
}
