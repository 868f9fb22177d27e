// Package memory provides a fully in-memory store.Store. Safe for
// concurrent access. Intended for unit testing and development.
//
// Sessions share the store's single state: writes are visible immediately
// and Commit/Rollback are no-ops, so the memory backend does not exercise
// transactional isolation. Tests that need rollback behavior use a real
// backend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/dependency"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
	"github.com/xraph/conduct/pipeline"
	"github.com/xraph/conduct/store"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs     map[string]*job.JobRun
	jobOrder []id.JobID

	pipelines map[string]*pipeline.Pipeline

	// deps maps a job to the edges it waits on.
	deps map[string][]dependency.Dependency
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.JobRun),
		pipelines: make(map[string]*pipeline.Pipeline),
		deps:      make(map[string][]dependency.Dependency),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Begin / Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Begin returns a session over the shared state.
func (m *Store) Begin(_ context.Context) (store.Session, error) {
	return &session{store: m}, nil
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// session delegates to the shared store state. Commit and Rollback are
// no-ops.
type session struct {
	store *Store
}

var _ store.Session = (*session)(nil)

func (s *session) Commit(_ context.Context) error   { return nil }
func (s *session) Rollback(_ context.Context) error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job run.
func (s *session) CreateJob(_ context.Context, j *job.JobRun) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conduct.ErrJobAlreadyExists
	}
	if j.CreatedAt.IsZero() {
		now := time.Now().UTC()
		j.CreatedAt = now
		j.UpdatedAt = now
	}
	m.jobs[key] = copyJob(j)
	m.jobOrder = append(m.jobOrder, j.ID)
	return nil
}

// GetJob retrieves a job run by ID.
func (s *session) GetJob(_ context.Context, jobID id.JobID) (*job.JobRun, error) {
	m := s.store
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conduct.ErrJobNotFound
	}
	return copyJob(j), nil
}

// UpdateJob persists changes to an existing job run.
func (s *session) UpdateJob(_ context.Context, j *job.JobRun) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return conduct.ErrJobNotFound
	}
	j.Touch(time.Now().UTC())
	m.jobs[key] = copyJob(j)
	return nil
}

// ListPipelineJobs returns the pipeline's jobs matching any of the given
// statuses, in creation order. An empty status list matches all jobs.
func (s *session) ListPipelineJobs(_ context.Context, pipelineID id.PipelineID, statuses ...job.Status) ([]*job.JobRun, error) {
	m := s.store
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.JobRun
	for _, jid := range m.jobOrder {
		j := m.jobs[jid.String()]
		if j.PipelineID != pipelineID {
			continue
		}
		if len(statuses) > 0 && !statusIn(j.Status, statuses) {
			continue
		}
		out = append(out, copyJob(j))
	}
	return out, nil
}

// CountPipelineJobsByStatus returns a histogram of job statuses for the
// pipeline.
func (s *session) CountPipelineJobsByStatus(_ context.Context, pipelineID id.PipelineID) (map[job.Status]int, error) {
	m := s.store
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[job.Status]int)
	for _, j := range m.jobs {
		if j.PipelineID == pipelineID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

// FindActiveJobByFunction returns the most recent non-terminal job run for
// the function, or nil if none exists.
func (s *session) FindActiveJobByFunction(_ context.Context, function string) (*job.JobRun, error) {
	m := s.store
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		j := m.jobs[m.jobOrder[i].String()]
		if j.Function == function && !j.Status.Terminal() {
			return copyJob(j), nil
		}
	}
	return nil, nil
}

// ──────────────────────────────────────────────────
// Pipeline Store
// ──────────────────────────────────────────────────

// CreatePipeline persists a new pipeline.
func (s *session) CreatePipeline(_ context.Context, p *pipeline.Pipeline) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.CreatedAt.IsZero() {
		now := time.Now().UTC()
		p.CreatedAt = now
		p.UpdatedAt = now
	}
	cp := *p
	m.pipelines[p.ID.String()] = &cp
	return nil
}

// GetPipeline retrieves a pipeline by ID.
func (s *session) GetPipeline(_ context.Context, pipelineID id.PipelineID) (*pipeline.Pipeline, error) {
	m := s.store
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pipelines[pipelineID.String()]
	if !ok {
		return nil, conduct.ErrPipelineNotFound
	}
	cp := *p
	return &cp, nil
}

// UpdatePipeline persists changes to an existing pipeline.
func (s *session) UpdatePipeline(_ context.Context, p *pipeline.Pipeline) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.ID.String()
	if _, ok := m.pipelines[key]; !ok {
		return conduct.ErrPipelineNotFound
	}
	p.Touch(time.Now().UTC())
	cp := *p
	m.pipelines[key] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Dependency Store
// ──────────────────────────────────────────────────

// CreateDependency persists a new edge.
func (s *session) CreateDependency(_ context.Context, d *dependency.Dependency) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.CreatedAt.IsZero() {
		now := time.Now().UTC()
		d.CreatedAt = now
		d.UpdatedAt = now
	}
	key := d.JobID.String()
	m.deps[key] = append(m.deps[key], *d)
	return nil
}

// ListDependenciesForJob returns the edges the job waits on, with the
// upstream job resolved on each edge.
func (s *session) ListDependenciesForJob(_ context.Context, jobID id.JobID) ([]dependency.Edge, error) {
	m := s.store
	m.mu.RLock()
	defer m.mu.RUnlock()

	deps := m.deps[jobID.String()]
	edges := make([]dependency.Edge, 0, len(deps))
	for _, d := range deps {
		upstream, ok := m.jobs[d.DependsOnID.String()]
		if !ok {
			return nil, conduct.ErrJobNotFound
		}
		edges = append(edges, dependency.Edge{
			Dependency: d,
			DependsOn:  copyJob(upstream),
		})
	}
	return edges, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func statusIn(s job.Status, set []job.Status) bool {
	for _, st := range set {
		if s == st {
			return true
		}
	}
	return false
}

// copyJob deep-copies a job run so callers cannot mutate stored state.
func copyJob(j *job.JobRun) *job.JobRun {
	cp := *j
	if j.Result != nil {
		cp.Result = append([]byte(nil), j.Result...)
	}
	if j.RetryHistory != nil {
		cp.RetryHistory = append([]job.RetryAttempt(nil), j.RetryHistory...)
	}
	return &cp
}
