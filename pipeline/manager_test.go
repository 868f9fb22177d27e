package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/dependency"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
	"github.com/xraph/conduct/pipeline"
	memqueue "github.com/xraph/conduct/queue/memory"
	"github.com/xraph/conduct/store"
	memstore "github.com/xraph/conduct/store/memory"
)

func newSession(t *testing.T) store.Session {
	t.Helper()
	s, err := memstore.New().Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return s
}

func createPipeline(t *testing.T, s store.Session, status pipeline.Status) id.PipelineID {
	t.Helper()
	p := &pipeline.Pipeline{
		ID:     id.NewPipelineID(),
		Name:   "score-refresh",
		Status: status,
	}
	if err := s.CreatePipeline(context.Background(), p); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	return p.ID
}

func createJob(t *testing.T, s store.Session, pid id.PipelineID, function string, status job.Status) id.JobID {
	t.Helper()
	jid := id.NewJobID()
	j := &job.JobRun{
		ID:         jid,
		URN:        "urn:conduct:job:" + jid.String(),
		Function:   function,
		PipelineID: pid,
		Status:     status,
		MaxRetries: 3,
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return jid
}

func addDependency(t *testing.T, s store.Session, jid, upstream id.JobID, typ dependency.Type) {
	t.Helper()
	d := &dependency.Dependency{JobID: jid, DependsOnID: upstream, Type: typ}
	if err := s.CreateDependency(context.Background(), d); err != nil {
		t.Fatalf("CreateDependency: %v", err)
	}
}

func newManager(t *testing.T, s store.Session, pid id.PipelineID, opts ...pipeline.ManagerOption) *pipeline.Manager {
	t.Helper()
	m, err := pipeline.NewManager(context.Background(), s, pid, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func jobStatus(t *testing.T, s store.Session, jid id.JobID) job.Status {
	t.Helper()
	j, err := s.GetJob(context.Background(), jid)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j.Status
}

func pipelineStatus(t *testing.T, s store.Session, pid id.PipelineID) pipeline.Status {
	t.Helper()
	p, err := s.GetPipeline(context.Background(), pid)
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	return p.Status
}

// runJob simulates a worker claiming the queued job and completing it.
func runJob(t *testing.T, s store.Session, jid id.JobID, outcome job.Status) {
	t.Helper()
	ctx := context.Background()
	jm, err := job.NewManager(ctx, s, jid)
	if err != nil {
		t.Fatalf("job.NewManager: %v", err)
	}
	if err := jm.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	switch outcome {
	case job.StatusSucceeded:
		err = jm.Succeed(ctx, nil)
	case job.StatusFailed:
		err = jm.Fail(ctx, errors.New("boom"), nil)
	default:
		t.Fatalf("unsupported outcome %s", outcome)
	}
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestDeriveStatus(t *testing.T) {
	counts := func(pairs ...any) map[job.Status]int {
		m := make(map[job.Status]int)
		for i := 0; i < len(pairs); i += 2 {
			m[pairs[i].(job.Status)] = pairs[i+1].(int)
		}
		return m
	}

	tests := []struct {
		name    string
		current pipeline.Status
		counts  map[job.Status]int
		want    pipeline.Status
	}{
		{"empty histogram", pipeline.StatusRunning, counts(), pipeline.StatusSucceeded},
		{"failed dominates", pipeline.StatusRunning, counts(job.StatusSucceeded, 3, job.StatusFailed, 1, job.StatusRunning, 2), pipeline.StatusFailed},
		{"running activity", pipeline.StatusRunning, counts(job.StatusSucceeded, 1, job.StatusRunning, 1), pipeline.StatusRunning},
		{"queued counts as activity", pipeline.StatusCreated, counts(job.StatusQueued, 1), pipeline.StatusRunning},
		{"pending defers", pipeline.StatusRunning, counts(job.StatusSucceeded, 1, job.StatusPending, 1), pipeline.StatusRunning},
		{"pending defers from created", pipeline.StatusCreated, counts(job.StatusPending, 2), pipeline.StatusCreated},
		{"all succeeded", pipeline.StatusRunning, counts(job.StatusSucceeded, 3), pipeline.StatusSucceeded},
		{"succeeded with skipped", pipeline.StatusRunning, counts(job.StatusSucceeded, 2, job.StatusSkipped, 1), pipeline.StatusPartial},
		{"succeeded with cancelled", pipeline.StatusRunning, counts(job.StatusSucceeded, 1, job.StatusCancelled, 1), pipeline.StatusPartial},
		{"no succeeded", pipeline.StatusRunning, counts(job.StatusCancelled, 1, job.StatusSkipped, 2), pipeline.StatusCancelled},
		{"terminal unchanged", pipeline.StatusFailed, counts(job.StatusSucceeded, 5), pipeline.StatusFailed},
		{"partial unchanged", pipeline.StatusPartial, counts(job.StatusFailed, 1), pipeline.StatusPartial},
		{"paused unchanged", pipeline.StatusPaused, counts(job.StatusFailed, 1), pipeline.StatusPaused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pipeline.DeriveStatus(tt.current, tt.counts); got != tt.want {
				t.Errorf("DeriveStatus(%s, %v) = %s, want %s", tt.current, tt.counts, got, tt.want)
			}
		})
	}
}

func TestDeriveStatus_Idempotent(t *testing.T) {
	histograms := []map[job.Status]int{
		{},
		{job.StatusFailed: 1},
		{job.StatusRunning: 2},
		{job.StatusSucceeded: 1, job.StatusSkipped: 1},
		{job.StatusPending: 3},
	}
	for _, counts := range histograms {
		first := pipeline.DeriveStatus(pipeline.StatusRunning, counts)
		second := pipeline.DeriveStatus(first, counts)
		if first != second {
			t.Errorf("not idempotent for %v: %s then %s", counts, first, second)
		}
	}
}

func TestManager_SetStatusTimestamps(t *testing.T) {
	s := newSession(t)
	pid := createPipeline(t, s, pipeline.StatusCreated)
	m := newManager(t, s, pid)
	ctx := context.Background()

	if err := m.SetStatus(ctx, pipeline.StatusRunning); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	p, _ := s.GetPipeline(ctx, pid)
	if p.StartedAt == nil {
		t.Fatal("StartedAt not stamped entering running")
	}
	started := *p.StartedAt

	// Re-entering running keeps the original start time.
	if err := m.SetStatus(ctx, pipeline.StatusRunning); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	p, _ = s.GetPipeline(ctx, pid)
	if !p.StartedAt.Equal(started) {
		t.Error("StartedAt changed on re-entry")
	}

	if err := m.SetStatus(ctx, pipeline.StatusSucceeded); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	p, _ = s.GetPipeline(ctx, pid)
	if p.FinishedAt == nil {
		t.Error("FinishedAt not stamped on terminal status")
	}

	if err := m.SetStatus(ctx, pipeline.StatusCreated); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	p, _ = s.GetPipeline(ctx, pid)
	if p.StartedAt != nil || p.FinishedAt != nil {
		t.Error("timestamps not cleared on created")
	}
}

func TestManager_EnqueueReadyJobsRequiresRunning(t *testing.T) {
	s := newSession(t)
	pid := createPipeline(t, s, pipeline.StatusCreated)
	m := newManager(t, s, pid, pipeline.WithQueue(memqueue.New()))

	if err := m.EnqueueReadyJobs(context.Background()); !errors.Is(err, conduct.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestManager_EnqueueReadyJobsRequiresQueue(t *testing.T) {
	s := newSession(t)
	pid := createPipeline(t, s, pipeline.StatusRunning)
	m := newManager(t, s, pid)

	if err := m.EnqueueReadyJobs(context.Background()); !errors.Is(err, conduct.ErrMissingQueue) {
		t.Fatalf("expected ErrMissingQueue, got %v", err)
	}
}

func TestManager_SuccessChain(t *testing.T) {
	s := newSession(t)
	q := memqueue.New()
	ctx := context.Background()

	pid := createPipeline(t, s, pipeline.StatusCreated)
	a := createJob(t, s, pid, "extract", job.StatusPending)
	b := createJob(t, s, pid, "load", job.StatusPending)
	addDependency(t, s, b, a, dependency.SuccessRequired)

	m := newManager(t, s, pid, pipeline.WithQueue(q))

	if err := m.Start(ctx, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := pipelineStatus(t, s, pid); got != pipeline.StatusRunning {
		t.Fatalf("pipeline = %s, want running", got)
	}
	if got := jobStatus(t, s, a); got != job.StatusQueued {
		t.Fatalf("job A = %s, want queued", got)
	}
	if got := jobStatus(t, s, b); got != job.StatusPending {
		t.Fatalf("job B = %s, want pending", got)
	}

	ref, err := q.Dequeue(ctx)
	if err != nil || ref == nil {
		t.Fatalf("Dequeue: ref=%v err=%v", ref, err)
	}
	if ref.JobID != a {
		t.Fatalf("dequeued %s, want job A", ref.JobID)
	}

	runJob(t, s, a, job.StatusSucceeded)
	if err := m.Coordinate(ctx); err != nil {
		t.Fatalf("Coordinate: %v", err)
	}
	if got := jobStatus(t, s, b); got != job.StatusQueued {
		t.Fatalf("job B = %s, want queued after A succeeded", got)
	}
	if got := pipelineStatus(t, s, pid); got != pipeline.StatusRunning {
		t.Fatalf("pipeline = %s, want running", got)
	}

	runJob(t, s, b, job.StatusSucceeded)
	if err := m.Coordinate(ctx); err != nil {
		t.Fatalf("Coordinate: %v", err)
	}
	if got := pipelineStatus(t, s, pid); got != pipeline.StatusSucceeded {
		t.Fatalf("pipeline = %s, want succeeded", got)
	}
}

func TestManager_FailureSkipsDependents(t *testing.T) {
	s := newSession(t)
	q := memqueue.New()
	ctx := context.Background()

	pid := createPipeline(t, s, pipeline.StatusCreated)
	a := createJob(t, s, pid, "extract", job.StatusPending)
	b := createJob(t, s, pid, "load", job.StatusPending)
	addDependency(t, s, b, a, dependency.SuccessRequired)

	m := newManager(t, s, pid, pipeline.WithQueue(q))
	if err := m.Start(ctx, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	runJob(t, s, a, job.StatusFailed)
	if err := m.Coordinate(ctx); err != nil {
		t.Fatalf("Coordinate: %v", err)
	}

	if got := pipelineStatus(t, s, pid); got != pipeline.StatusFailed {
		t.Fatalf("pipeline = %s, want failed", got)
	}
	if got := jobStatus(t, s, b); got != job.StatusSkipped {
		t.Fatalf("job B = %s, want skipped", got)
	}
	if q.Len() != 0 {
		t.Fatal("job B must never be enqueued")
	}
}

func TestManager_PauseSuspendsEnqueueing(t *testing.T) {
	s := newSession(t)
	q := memqueue.New()
	ctx := context.Background()

	pid := createPipeline(t, s, pipeline.StatusCreated)
	a := createJob(t, s, pid, "extract", job.StatusPending)
	b := createJob(t, s, pid, "load", job.StatusPending)
	addDependency(t, s, b, a, dependency.SuccessRequired)

	m := newManager(t, s, pid, pipeline.WithQueue(q))
	if err := m.Start(ctx, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// A is mid-execution when the pipeline is paused.
	jm, err := job.NewManager(ctx, s, a)
	if err != nil {
		t.Fatalf("job.NewManager: %v", err)
	}
	if err := jm.Start(ctx); err != nil {
		t.Fatalf("job Start: %v", err)
	}
	if err := m.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := jobStatus(t, s, a); got != job.StatusRunning {
		t.Fatalf("pausing altered running job: %s", got)
	}

	// A completes while paused: no enqueue, status stays paused.
	if err := jm.Succeed(ctx, nil); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	if err := m.Coordinate(ctx); err != nil {
		t.Fatalf("Coordinate: %v", err)
	}
	if got := pipelineStatus(t, s, pid); got != pipeline.StatusPaused {
		t.Fatalf("pipeline = %s, want paused", got)
	}
	if got := jobStatus(t, s, b); got != job.StatusPending {
		t.Fatalf("job B = %s, want pending while paused", got)
	}

	// Unpausing immediately enqueues the now-ready job.
	if err := m.Unpause(ctx); err != nil {
		t.Fatalf("Unpause: %v", err)
	}
	if got := jobStatus(t, s, b); got != job.StatusQueued {
		t.Fatalf("job B = %s, want queued after unpause", got)
	}
}

func TestManager_CancelResolvesRemainingJobs(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	pid := createPipeline(t, s, pipeline.StatusRunning)
	running := createJob(t, s, pid, "extract", job.StatusRunning)
	queued := createJob(t, s, pid, "transform", job.StatusQueued)
	pending := createJob(t, s, pid, "load", job.StatusPending)

	m := newManager(t, s, pid, pipeline.WithQueue(memqueue.New()))
	if err := m.Cancel(ctx, "operator request"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if got := pipelineStatus(t, s, pid); got != pipeline.StatusCancelled {
		t.Fatalf("pipeline = %s, want cancelled", got)
	}
	if got := jobStatus(t, s, running); got != job.StatusCancelled {
		t.Errorf("running job = %s, want cancelled", got)
	}
	if got := jobStatus(t, s, queued); got != job.StatusCancelled {
		t.Errorf("queued job = %s, want cancelled", got)
	}
	if got := jobStatus(t, s, pending); got != job.StatusSkipped {
		t.Errorf("pending job = %s, want skipped", got)
	}

	j, _ := s.GetJob(ctx, pending)
	if len(j.Result) == 0 {
		t.Error("skipped job carries no bulk cancellation payload")
	}

	// Cancelling a terminal pipeline is rejected.
	if err := m.Cancel(ctx, "again"); !errors.Is(err, conduct.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestManager_Restart(t *testing.T) {
	s := newSession(t)
	q := memqueue.New()
	ctx := context.Background()

	pid := createPipeline(t, s, pipeline.StatusFailed)
	a := createJob(t, s, pid, "extract", job.StatusFailed)
	b := createJob(t, s, pid, "load", job.StatusSkipped)
	addDependency(t, s, b, a, dependency.SuccessRequired)

	m := newManager(t, s, pid, pipeline.WithQueue(q))
	if err := m.Restart(ctx); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	if got := pipelineStatus(t, s, pid); got != pipeline.StatusRunning {
		t.Fatalf("pipeline = %s, want running", got)
	}
	// The dependency-free job is re-enqueued exactly once; the dependent one
	// waits.
	if got := jobStatus(t, s, a); got != job.StatusQueued {
		t.Errorf("job A = %s, want queued", got)
	}
	if got := jobStatus(t, s, b); got != job.StatusPending {
		t.Errorf("job B = %s, want pending", got)
	}
	if q.Len() != 1 {
		t.Errorf("queue holds %d entries, want 1", q.Len())
	}

	ja, _ := s.GetJob(ctx, a)
	if ja.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 after reset", ja.RetryCount)
	}
}

func TestManager_RestartEmptyPipeline(t *testing.T) {
	s := newSession(t)
	pid := createPipeline(t, s, pipeline.StatusCreated)
	m := newManager(t, s, pid)

	if err := m.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if got := pipelineStatus(t, s, pid); got != pipeline.StatusCreated {
		t.Fatalf("pipeline = %s, want created (no-op)", got)
	}
}

func TestManager_RetryFailedJobs(t *testing.T) {
	s := newSession(t)
	q := memqueue.New()
	ctx := context.Background()

	pid := createPipeline(t, s, pipeline.StatusFailed)
	failed := createJob(t, s, pid, "extract", job.StatusFailed)
	ok := createJob(t, s, pid, "transform", job.StatusSucceeded)

	m := newManager(t, s, pid, pipeline.WithQueue(q))
	if err := m.RetryFailedJobs(ctx); err != nil {
		t.Fatalf("RetryFailedJobs: %v", err)
	}

	if got := pipelineStatus(t, s, pid); got != pipeline.StatusRunning {
		t.Fatalf("pipeline = %s, want running", got)
	}
	if got := jobStatus(t, s, failed); got != job.StatusQueued {
		t.Errorf("failed job = %s, want queued", got)
	}
	if got := jobStatus(t, s, ok); got != job.StatusSucceeded {
		t.Errorf("succeeded job = %s, want untouched", got)
	}

	j, _ := s.GetJob(ctx, failed)
	if j.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", j.RetryCount)
	}
	if len(j.RetryHistory) != 1 {
		t.Errorf("RetryHistory length = %d, want 1", len(j.RetryHistory))
	}
}

func TestManager_RetryUnsuccessfulJobs(t *testing.T) {
	s := newSession(t)
	q := memqueue.New()
	ctx := context.Background()

	pid := createPipeline(t, s, pipeline.StatusPartial)
	cancelled := createJob(t, s, pid, "extract", job.StatusCancelled)
	skipped := createJob(t, s, pid, "transform", job.StatusSkipped)
	ok := createJob(t, s, pid, "load", job.StatusSucceeded)

	m := newManager(t, s, pid, pipeline.WithQueue(q))
	if err := m.RetryUnsuccessfulJobs(ctx); err != nil {
		t.Fatalf("RetryUnsuccessfulJobs: %v", err)
	}

	if got := jobStatus(t, s, cancelled); got != job.StatusQueued {
		t.Errorf("cancelled job = %s, want queued", got)
	}
	if got := jobStatus(t, s, skipped); got != job.StatusQueued {
		t.Errorf("skipped job = %s, want queued", got)
	}
	if got := jobStatus(t, s, ok); got != job.StatusSucceeded {
		t.Errorf("succeeded job = %s, want untouched", got)
	}
}

func TestManager_RetryNoopWhenNothingToRetry(t *testing.T) {
	s := newSession(t)
	pid := createPipeline(t, s, pipeline.StatusSucceeded)
	createJob(t, s, pid, "extract", job.StatusSucceeded)

	m := newManager(t, s, pid)
	if err := m.RetryPipeline(context.Background()); err != nil {
		t.Fatalf("RetryPipeline: %v", err)
	}
	if got := pipelineStatus(t, s, pid); got != pipeline.StatusSucceeded {
		t.Fatalf("pipeline = %s, want succeeded (no-op)", got)
	}
}

func TestManager_DoubleCoordinateDoesNotDoubleEnqueue(t *testing.T) {
	s := newSession(t)
	q := memqueue.New()
	ctx := context.Background()

	pid := createPipeline(t, s, pipeline.StatusCreated)
	createJob(t, s, pid, "extract", job.StatusPending)

	m := newManager(t, s, pid, pipeline.WithQueue(q))
	if err := m.Start(ctx, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Coordinate(ctx); err != nil {
		t.Fatalf("Coordinate: %v", err)
	}

	if q.Len() != 1 {
		t.Fatalf("queue holds %d entries, want 1", q.Len())
	}
}

func TestManager_Progress(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	pid := createPipeline(t, s, pipeline.StatusRunning)
	createJob(t, s, pid, "a", job.StatusSucceeded)
	createJob(t, s, pid, "b", job.StatusSucceeded)
	createJob(t, s, pid, "c", job.StatusRunning)
	createJob(t, s, pid, "d", job.StatusPending)

	m := newManager(t, s, pid)
	pr, err := m.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}

	if pr.Total != 4 {
		t.Errorf("Total = %d, want 4", pr.Total)
	}
	if pr.Succeeded != 2 || pr.Running != 1 || pr.Pending != 1 {
		t.Errorf("histogram = %+v", pr)
	}
	if pr.Completed != 2 {
		t.Errorf("Completed = %d, want 2", pr.Completed)
	}
	if pr.PercentComplete != 50 {
		t.Errorf("PercentComplete = %v, want 50", pr.PercentComplete)
	}
}

func TestManager_ShouldSkipJobReason(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	pid := createPipeline(t, s, pipeline.StatusRunning)
	a := createJob(t, s, pid, "extract", job.StatusCancelled)
	b := createJob(t, s, pid, "load", job.StatusPending)
	addDependency(t, s, b, a, dependency.SuccessRequired)

	m := newManager(t, s, pid)
	j, err := s.GetJob(ctx, b)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	skip, reason, err := m.ShouldSkipJob(ctx, j)
	if err != nil {
		t.Fatalf("ShouldSkipJob: %v", err)
	}
	if !skip {
		t.Fatal("expected skip")
	}
	if reason != "Dependency did not succeed (cancelled)" {
		t.Errorf("reason = %q", reason)
	}
}
