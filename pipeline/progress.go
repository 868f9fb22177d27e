package pipeline

import (
	"context"
	"time"

	"github.com/xraph/conduct/job"
)

// Progress summarizes a pipeline's execution state for reporting.
type Progress struct {
	Status Status `json:"status"`

	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`

	// Completed is the number of jobs in any terminal status.
	Completed int `json:"completed"`

	// PercentComplete is Completed/Total in [0, 100]. Zero for an empty
	// pipeline.
	PercentComplete float64 `json:"percent_complete"`

	// Duration is the elapsed wall time: finished minus started when both
	// are set, now minus started while running, zero before starting.
	Duration time.Duration `json:"duration"`
}

// Progress computes the pipeline's progress statistics from the job
// histogram and the pipeline's timing fields.
func (m *Manager) Progress(ctx context.Context) (*Progress, error) {
	p, err := m.Pipeline(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := m.JobCountsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	pr := &Progress{
		Status:    p.Status,
		Pending:   counts[job.StatusPending],
		Queued:    counts[job.StatusQueued],
		Running:   counts[job.StatusRunning],
		Succeeded: counts[job.StatusSucceeded],
		Failed:    counts[job.StatusFailed],
		Cancelled: counts[job.StatusCancelled],
		Skipped:   counts[job.StatusSkipped],
	}
	for _, n := range counts {
		pr.Total += n
	}
	pr.Completed = pr.Succeeded + pr.Failed + pr.Cancelled + pr.Skipped
	if pr.Total > 0 {
		pr.PercentComplete = float64(pr.Completed) / float64(pr.Total) * 100
	}

	if p.StartedAt != nil {
		end := time.Now().UTC()
		if p.FinishedAt != nil {
			end = *p.FinishedAt
		}
		pr.Duration = end.Sub(*p.StartedAt)
	}

	return pr, nil
}
