package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/dependency"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
	"github.com/xraph/conduct/queue"
)

// Manager coordinates the DAG of jobs owned by one pipeline.
//
// Like job.Manager it flushes but never commits: the transaction boundary
// belongs to the lifecycle wrapper. Coordinate is safe to invoke
// redundantly — status derivation is a pure recomputation from the job
// histogram and each job's own transition guards prevent duplicate
// enqueueing.
type Manager struct {
	db         Datastore
	pipelineID id.PipelineID
	queue      queue.Enqueuer
	policy     job.RetryPolicy
	logger     *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithQueue sets the task queue used to submit ready jobs. Required for
// EnqueueReadyJobs and therefore for Coordinate on a running pipeline.
func WithQueue(q queue.Enqueuer) ManagerOption {
	return func(m *Manager) { m.queue = q }
}

// WithRetryPolicy sets the retry policy handed to per-job managers.
func WithRetryPolicy(p job.RetryPolicy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the structured logger for the manager.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager for the given pipeline. It fails fast with
// a connection error if the pipeline cannot be fetched.
func NewManager(ctx context.Context, db Datastore, pipelineID id.PipelineID, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		db:         db,
		pipelineID: pipelineID,
		policy:     job.DefaultRetryPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if _, err := m.Pipeline(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// PipelineID returns the identifier of the managed pipeline.
func (m *Manager) PipelineID() id.PipelineID { return m.pipelineID }

// Pipeline fetches the current pipeline row.
func (m *Manager) Pipeline(ctx context.Context) (*Pipeline, error) {
	p, err := m.db.GetPipeline(ctx, m.pipelineID)
	if err != nil {
		return nil, fmt.Errorf("conduct/pipeline: fetch pipeline %s: %w: %w",
			m.pipelineID, conduct.ErrConnection, err)
	}
	return p, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Status derivation
// ─────────────────────────────────────────────────────────────────────────────

// DeriveStatus computes the pipeline status implied by the current status
// and the histogram of its jobs' statuses. It is pure, total, and
// idempotent: terminal and paused pipelines are never reopened, failure
// dominates, activity keeps the pipeline running, and pending-only
// histograms defer to a later enqueue pass.
func DeriveStatus(current Status, counts map[job.Status]int) Status {
	if current.Terminal() || current == StatusPaused {
		return current
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return StatusSucceeded
	}

	if counts[job.StatusFailed] > 0 {
		return StatusFailed
	}
	if counts[job.StatusRunning]+counts[job.StatusQueued] > 0 {
		return StatusRunning
	}
	if counts[job.StatusPending] > 0 {
		// Pending jobs are resolved by a subsequent enqueue pass, not here.
		return current
	}

	// Only terminal-but-not-failed statuses remain.
	switch {
	case counts[job.StatusCancelled]+counts[job.StatusSkipped] == 0:
		return StatusSucceeded
	case counts[job.StatusSucceeded] > 0:
		return StatusPartial
	default:
		return StatusCancelled
	}
}

// JobCountsByStatus returns the histogram of job statuses for the
// pipeline.
func (m *Manager) JobCountsByStatus(ctx context.Context) (map[job.Status]int, error) {
	counts, err := m.db.CountPipelineJobsByStatus(ctx, m.pipelineID)
	if err != nil {
		return nil, fmt.Errorf("conduct/pipeline: count jobs for pipeline %s: %w: %w",
			m.pipelineID, conduct.ErrConnection, err)
	}
	return counts, nil
}

// TransitionStatus recomputes the pipeline status from the job histogram
// and persists it if it changed. Returns the (possibly unchanged) status.
func (m *Manager) TransitionStatus(ctx context.Context) (Status, error) {
	p, err := m.Pipeline(ctx)
	if err != nil {
		return "", err
	}

	counts, err := m.JobCountsByStatus(ctx)
	if err != nil {
		return "", err
	}

	target := DeriveStatus(p.Status, counts)
	if target == p.Status {
		return target, nil
	}

	if err := m.SetStatus(ctx, target); err != nil {
		return "", err
	}

	m.logger.Info("pipeline status transitioned",
		slog.String("pipeline_id", m.pipelineID.String()),
		slog.String("from", string(p.Status)),
		slog.String("to", string(target)),
	)
	return target, nil
}

// SetStatus writes the pipeline status unconditionally, maintaining the
// timing fields: FinishedAt is stamped on terminal statuses and cleared
// otherwise, StartedAt is cleared on created and stamped when first
// entering running.
func (m *Manager) SetStatus(ctx context.Context, status Status) error {
	p, err := m.Pipeline(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	p.Status = status

	if status.Terminal() {
		p.FinishedAt = &now
	} else {
		p.FinishedAt = nil
	}
	if status == StatusCreated {
		p.StartedAt = nil
	}
	if status == StatusRunning && p.StartedAt == nil {
		p.StartedAt = &now
	}

	if err := m.db.UpdatePipeline(ctx, p); err != nil {
		return fmt.Errorf("conduct/pipeline: set status of pipeline %s: %w: %w",
			m.pipelineID, conduct.ErrCorruptState, err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Coordination
// ─────────────────────────────────────────────────────────────────────────────

// Coordinate is the single re-entry point invoked after every job
// completion and after every explicit pipeline command. It recomputes the
// status, then acts on the result: a failed or cancelled pipeline has its
// remaining jobs resolved, a running one has its ready jobs enqueued and
// the status recomputed once more (enqueueing may discover nothing was
// actually ready). Created, paused, and successful statuses are no-ops.
func (m *Manager) Coordinate(ctx context.Context) error {
	status, err := m.TransitionStatus(ctx)
	if err != nil {
		return err
	}

	switch status {
	case StatusFailed, StatusCancelled:
		return m.CancelRemainingJobs(ctx, fmt.Sprintf("Pipeline is %s", status))
	case StatusRunning:
		if err := m.EnqueueReadyJobs(ctx); err != nil {
			return err
		}
		_, err := m.TransitionStatus(ctx)
		return err
	}
	return nil
}

// EnqueueReadyJobs submits every pending job whose dependencies are all
// satisfied, marking each queued first. Jobs with a permanently
// unfulfillable dependency are skipped; other pending jobs are left for a
// future coordination pass. Queue submission failures are coordination
// errors and propagate — a job that failed to enqueue must not be silently
// lost.
func (m *Manager) EnqueueReadyJobs(ctx context.Context) error {
	p, err := m.Pipeline(ctx)
	if err != nil {
		return err
	}
	if p.Status != StatusRunning {
		return fmt.Errorf("conduct/pipeline: cannot enqueue jobs of pipeline %s with status %s: %w",
			m.pipelineID, p.Status, conduct.ErrInvalidTransition)
	}
	if m.queue == nil {
		return fmt.Errorf("conduct/pipeline: enqueue jobs of pipeline %s: %w",
			m.pipelineID, conduct.ErrMissingQueue)
	}

	pending, err := m.PendingJobs(ctx)
	if err != nil {
		return err
	}

	for _, j := range pending {
		ready, err := m.CanEnqueueJob(ctx, j)
		if err != nil {
			return err
		}

		if !ready {
			skip, reason, err := m.ShouldSkipJob(ctx, j)
			if err != nil {
				return err
			}
			if skip {
				if err := m.skipJob(ctx, j, reason); err != nil {
					return err
				}
			}
			continue
		}

		jm, err := m.jobManager(ctx, j.ID)
		if err != nil {
			return err
		}
		if err := jm.PrepareQueue(ctx); err != nil {
			return err
		}

		var deferBy time.Duration
		if j.RetryCount > 0 {
			deferBy = j.RetryDelay
		}

		enqueued, err := m.queue.Enqueue(ctx, j.Function, j.ID, deferBy, j.URN)
		if err != nil {
			return fmt.Errorf("conduct/pipeline: submit job %s to queue: %w: %w",
				j.ID, conduct.ErrCoordination, err)
		}
		if !enqueued {
			m.logger.Warn("job already queued, submission deduplicated",
				slog.String("job_id", j.ID.String()),
				slog.String("urn", j.URN),
			)
			continue
		}

		m.logger.Info("job enqueued",
			slog.String("pipeline_id", m.pipelineID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("function", j.Function),
			slog.Duration("defer_by", deferBy),
		)
	}
	return nil
}

// CancelRemainingJobs resolves every non-terminal job: running and queued
// jobs are cancelled, pending jobs are skipped. Each job's result records
// the bulk cancellation and its reason.
func (m *Manager) CancelRemainingJobs(ctx context.Context, reason string) error {
	payload, err := json.Marshal(struct {
		BulkCancellation bool   `json:"bulk_cancellation"`
		Reason           string `json:"reason"`
	}{BulkCancellation: true, Reason: reason})
	if err != nil {
		return fmt.Errorf("conduct/pipeline: encode cancellation payload: %w", err)
	}

	active, err := m.listJobs(ctx, job.StatusRunning, job.StatusQueued)
	if err != nil {
		return err
	}
	for _, j := range active {
		jm, err := m.jobManager(ctx, j.ID)
		if err != nil {
			return err
		}
		if err := jm.Cancel(ctx, payload); err != nil {
			return err
		}
	}

	pending, err := m.PendingJobs(ctx)
	if err != nil {
		return err
	}
	for _, j := range pending {
		jm, err := m.jobManager(ctx, j.ID)
		if err != nil {
			return err
		}
		if err := jm.Skip(ctx, payload); err != nil {
			return err
		}
	}

	if len(active)+len(pending) > 0 {
		m.logger.Info("remaining pipeline jobs resolved",
			slog.String("pipeline_id", m.pipelineID.String()),
			slog.Int("cancelled", len(active)),
			slog.Int("skipped", len(pending)),
			slog.String("reason", reason),
		)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Pipeline commands
// ─────────────────────────────────────────────────────────────────────────────

// Start transitions the pipeline from created to running. When coordinate
// is true a coordination pass follows, enqueueing the initial
// dependency-free jobs.
func (m *Manager) Start(ctx context.Context, coordinate bool) error {
	p, err := m.Pipeline(ctx)
	if err != nil {
		return err
	}
	if p.Status != StatusCreated {
		return fmt.Errorf("conduct/pipeline: cannot start pipeline %s from status %s: %w",
			m.pipelineID, p.Status, conduct.ErrInvalidTransition)
	}

	if err := m.SetStatus(ctx, StatusRunning); err != nil {
		return err
	}

	m.logger.Info("pipeline started", slog.String("pipeline_id", m.pipelineID.String()))

	if coordinate {
		return m.Coordinate(ctx)
	}
	return nil
}

// Pause suspends coordination: running jobs finish but nothing new is
// enqueued until Unpause.
func (m *Manager) Pause(ctx context.Context) error {
	p, err := m.Pipeline(ctx)
	if err != nil {
		return err
	}
	if p.Status.Terminal() || p.Status == StatusPaused {
		return fmt.Errorf("conduct/pipeline: cannot pause pipeline %s from status %s: %w",
			m.pipelineID, p.Status, conduct.ErrInvalidTransition)
	}

	if err := m.SetStatus(ctx, StatusPaused); err != nil {
		return err
	}

	m.logger.Info("pipeline paused", slog.String("pipeline_id", m.pipelineID.String()))
	return m.Coordinate(ctx)
}

// Unpause resumes a paused pipeline and immediately coordinates,
// enqueueing any jobs that became ready while paused.
func (m *Manager) Unpause(ctx context.Context) error {
	p, err := m.Pipeline(ctx)
	if err != nil {
		return err
	}
	if p.Status != StatusPaused {
		return fmt.Errorf("conduct/pipeline: cannot unpause pipeline %s from status %s: %w",
			m.pipelineID, p.Status, conduct.ErrInvalidTransition)
	}

	if err := m.SetStatus(ctx, StatusRunning); err != nil {
		return err
	}

	m.logger.Info("pipeline unpaused", slog.String("pipeline_id", m.pipelineID.String()))
	return m.Coordinate(ctx)
}

// Cancel terminates a non-terminal pipeline, cancelling its running and
// queued jobs and skipping its pending ones with the given reason.
func (m *Manager) Cancel(ctx context.Context, reason string) error {
	p, err := m.Pipeline(ctx)
	if err != nil {
		return err
	}
	if p.Status.Terminal() {
		return fmt.Errorf("conduct/pipeline: cannot cancel pipeline %s from status %s: %w",
			m.pipelineID, p.Status, conduct.ErrInvalidTransition)
	}

	if err := m.SetStatus(ctx, StatusCancelled); err != nil {
		return err
	}

	m.logger.Info("pipeline cancelled",
		slog.String("pipeline_id", m.pipelineID.String()),
		slog.String("reason", reason),
	)
	return m.CancelRemainingJobs(ctx, reason)
}

// Restart resets every job to a pristine pending state, returns the
// pipeline to created, and starts it again. A pipeline with no jobs is a
// no-op.
func (m *Manager) Restart(ctx context.Context) error {
	jobs, err := m.AllJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		jm, err := m.jobManager(ctx, j.ID)
		if err != nil {
			return err
		}
		if err := jm.Reset(ctx); err != nil {
			return err
		}
	}

	if err := m.SetStatus(ctx, StatusCreated); err != nil {
		return err
	}

	m.logger.Info("pipeline restarted",
		slog.String("pipeline_id", m.pipelineID.String()),
		slog.Int("jobs", len(jobs)),
	)
	return m.Start(ctx, true)
}

// ─────────────────────────────────────────────────────────────────────────────
// Bulk retries
// ─────────────────────────────────────────────────────────────────────────────

// RetryFailedJobs returns every failed job to pending with retry
// bookkeeping, sets the pipeline running, and coordinates. A no-op when no
// job has failed.
func (m *Manager) RetryFailedJobs(ctx context.Context) error {
	jobs, err := m.FailedJobs(ctx)
	if err != nil {
		return err
	}
	return m.retryJobs(ctx, jobs, "Bulk retry of failed jobs", (*job.Manager).PrepareRetry)
}

// RetryUnsuccessfulJobs returns every failed, cancelled, or skipped job to
// pending with retry bookkeeping, sets the pipeline running, and
// coordinates. A no-op when every job succeeded or is still active.
func (m *Manager) RetryUnsuccessfulJobs(ctx context.Context) error {
	jobs, err := m.UnsuccessfulJobs(ctx)
	if err != nil {
		return err
	}
	return m.retryJobs(ctx, jobs, "Bulk retry of unsuccessful jobs", (*job.Manager).PrepareRetryTerminal)
}

// RetryPipeline retries every unsuccessful job. Alias for
// RetryUnsuccessfulJobs.
func (m *Manager) RetryPipeline(ctx context.Context) error {
	return m.RetryUnsuccessfulJobs(ctx)
}

func (m *Manager) retryJobs(ctx context.Context, jobs []*job.JobRun, reason string,
	prepare func(*job.Manager, context.Context, string) error) error {

	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		jm, err := m.jobManager(ctx, j.ID)
		if err != nil {
			return err
		}
		if err := prepare(jm, ctx, reason); err != nil {
			return err
		}
	}

	if err := m.SetStatus(ctx, StatusRunning); err != nil {
		return err
	}

	m.logger.Info("pipeline jobs prepared for retry",
		slog.String("pipeline_id", m.pipelineID.String()),
		slog.Int("jobs", len(jobs)),
	)
	return m.Coordinate(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Dependency checks
// ─────────────────────────────────────────────────────────────────────────────

// CanEnqueueJob reports whether every dependency edge of the job is
// satisfied.
func (m *Manager) CanEnqueueJob(ctx context.Context, j *job.JobRun) (bool, error) {
	edges, err := m.edges(ctx, j)
	if err != nil {
		return false, err
	}
	return dependency.AllMet(edges), nil
}

// ShouldSkipJob reports whether the job has at least one permanently
// unfulfillable dependency, with a reason naming the offending upstream
// status.
func (m *Manager) ShouldSkipJob(ctx context.Context, j *job.JobRun) (bool, string, error) {
	edges, err := m.edges(ctx, j)
	if err != nil {
		return false, "", err
	}
	for _, e := range edges {
		if e.Unfulfillable() {
			return true, fmt.Sprintf("Dependency did not succeed (%s)", e.DependsOn.Status), nil
		}
	}
	return false, "", nil
}

func (m *Manager) edges(ctx context.Context, j *job.JobRun) ([]dependency.Edge, error) {
	edges, err := m.db.ListDependenciesForJob(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/pipeline: resolve dependencies of job %s: %w: %w",
			j.ID, conduct.ErrCorruptState, err)
	}
	for _, e := range edges {
		if e.DependsOn == nil {
			return nil, fmt.Errorf("conduct/pipeline: dependency %s -> %s has no resolved upstream job: %w",
				e.JobID, e.DependsOnID, conduct.ErrCorruptState)
		}
	}
	return edges, nil
}

func (m *Manager) skipJob(ctx context.Context, j *job.JobRun, reason string) error {
	payload, err := json.Marshal(struct {
		Skipped bool   `json:"skipped"`
		Reason  string `json:"reason"`
	}{Skipped: true, Reason: reason})
	if err != nil {
		return fmt.Errorf("conduct/pipeline: encode skip payload: %w", err)
	}

	jm, err := m.jobManager(ctx, j.ID)
	if err != nil {
		return err
	}
	if err := jm.Skip(ctx, payload); err != nil {
		return err
	}

	m.logger.Info("job skipped",
		slog.String("pipeline_id", m.pipelineID.String()),
		slog.String("job_id", j.ID.String()),
		slog.String("reason", reason),
	)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────────────────────

// PendingJobs returns the pipeline's pending jobs in creation order.
func (m *Manager) PendingJobs(ctx context.Context) ([]*job.JobRun, error) {
	return m.listJobs(ctx, job.StatusPending)
}

// RunningJobs returns the pipeline's running jobs in creation order.
func (m *Manager) RunningJobs(ctx context.Context) ([]*job.JobRun, error) {
	return m.listJobs(ctx, job.StatusRunning)
}

// ActiveJobs returns jobs that are pending, queued, or running.
func (m *Manager) ActiveJobs(ctx context.Context) ([]*job.JobRun, error) {
	return m.listJobs(ctx, job.StatusPending, job.StatusQueued, job.StatusRunning)
}

// FailedJobs returns the pipeline's failed jobs in creation order.
func (m *Manager) FailedJobs(ctx context.Context) ([]*job.JobRun, error) {
	return m.listJobs(ctx, job.StatusFailed)
}

// UnsuccessfulJobs returns jobs that are failed, cancelled, or skipped.
func (m *Manager) UnsuccessfulJobs(ctx context.Context) ([]*job.JobRun, error) {
	return m.listJobs(ctx, job.StatusFailed, job.StatusCancelled, job.StatusSkipped)
}

// AllJobs returns every job of the pipeline in creation order.
func (m *Manager) AllJobs(ctx context.Context) ([]*job.JobRun, error) {
	return m.listJobs(ctx)
}

func (m *Manager) listJobs(ctx context.Context, statuses ...job.Status) ([]*job.JobRun, error) {
	jobs, err := m.db.ListPipelineJobs(ctx, m.pipelineID, statuses...)
	if err != nil {
		return nil, fmt.Errorf("conduct/pipeline: list jobs of pipeline %s: %w: %w",
			m.pipelineID, conduct.ErrConnection, err)
	}
	return jobs, nil
}

func (m *Manager) jobManager(ctx context.Context, jobID id.JobID) (*job.Manager, error) {
	return job.NewManager(ctx, m.db, jobID,
		job.WithRetryPolicy(m.policy),
		job.WithLogger(m.logger),
	)
}
