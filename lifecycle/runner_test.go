package lifecycle_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/alert"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
	"github.com/xraph/conduct/lifecycle"
	memqueue "github.com/xraph/conduct/queue/memory"
	"github.com/xraph/conduct/store"
	memstore "github.com/xraph/conduct/store/memory"
)

type captureNotifier struct {
	events []alert.Event
}

func (c *captureNotifier) Notify(_ context.Context, ev alert.Event) {
	c.events = append(c.events, ev)
}

type fixture struct {
	session store.Session
	queue   *memqueue.Queue
	alerts  *captureNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	session, err := memstore.New().Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return &fixture{
		session: session,
		queue:   memqueue.New(),
		alerts:  &captureNotifier{},
	}
}

func (f *fixture) context() lifecycle.Context {
	return lifecycle.Context{
		DB:     f.session,
		Queue:  f.queue,
		Alerts: f.alerts,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (f *fixture) seedJob(t *testing.T, mutate func(*job.JobRun)) id.JobID {
	t.Helper()
	jid := id.NewJobID()
	j := &job.JobRun{
		ID:         jid,
		URN:        "urn:conduct:job:" + jid.String(),
		Function:   "refresh_scores",
		Status:     job.StatusQueued,
		MaxRetries: 3,
	}
	if mutate != nil {
		mutate(j)
	}
	if err := f.session.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return jid
}

func TestEnsureJobRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j, err := lifecycle.EnsureJobRecord(ctx, f.session, lifecycle.JobSpec{
		Function:   "refresh_scores",
		JobType:    "maintenance",
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("EnsureJobRecord: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Errorf("Status = %s, want pending", j.Status)
	}
	if j.URN != "urn:conduct:job:"+j.ID.String() {
		t.Errorf("URN = %q", j.URN)
	}

	// A second call while the first run is still active returns it.
	again, err := lifecycle.EnsureJobRecord(ctx, f.session, lifecycle.JobSpec{Function: "refresh_scores"})
	if err != nil {
		t.Fatalf("EnsureJobRecord: %v", err)
	}
	if again.ID != j.ID {
		t.Errorf("got new record %s, want existing %s", again.ID, j.ID)
	}

	// Once the run is terminal, a new record is created.
	j.Status = job.StatusSucceeded
	if err := f.session.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	third, err := lifecycle.EnsureJobRecord(ctx, f.session, lifecycle.JobSpec{Function: "refresh_scores"})
	if err != nil {
		t.Fatalf("EnsureJobRecord: %v", err)
	}
	if third.ID == j.ID {
		t.Error("expected a fresh record after the prior run finished")
	}
}

func TestEnsureJobRecord_RequiresFunction(t *testing.T) {
	f := newFixture(t)
	if _, err := lifecycle.EnsureJobRecord(context.Background(), f.session, lifecycle.JobSpec{}); err == nil {
		t.Fatal("expected error for empty function name")
	}
}

func TestJobRunner_ContextValidation(t *testing.T) {
	f := newFixture(t)
	jid := f.seedJob(t, nil)
	body := func(context.Context, id.JobID) (json.RawMessage, error) { return nil, nil }

	r := &lifecycle.JobRunner{Context: lifecycle.Context{Queue: f.queue}}
	if _, err := r.Run(context.Background(), jid, body); !errors.Is(err, conduct.ErrMissingSession) {
		t.Fatalf("expected ErrMissingSession, got %v", err)
	}

	r = &lifecycle.JobRunner{Context: lifecycle.Context{DB: f.session}}
	if _, err := r.Run(context.Background(), jid, body); !errors.Is(err, conduct.ErrMissingQueue) {
		t.Fatalf("expected ErrMissingQueue, got %v", err)
	}

	r = &lifecycle.JobRunner{Context: f.context()}
	if _, err := r.Run(context.Background(), id.Nil, body); err == nil {
		t.Fatal("expected error for nil job id")
	}
}

func TestJobRunner_Success(t *testing.T) {
	f := newFixture(t)
	jid := f.seedJob(t, nil)
	ctx := context.Background()

	r := &lifecycle.JobRunner{Context: f.context()}
	result, err := r.Run(ctx, jid, func(_ context.Context, got id.JobID) (json.RawMessage, error) {
		if got != jid {
			t.Errorf("body received job %s, want %s", got, jid)
		}
		return json.RawMessage(`{"rows": 7}`), nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != lifecycle.ResultSucceeded {
		t.Fatalf("result = %s, want succeeded", result.Status)
	}
	if string(result.Output) != `{"rows": 7}` {
		t.Errorf("output = %s", result.Output)
	}

	j, _ := f.session.GetJob(ctx, jid)
	if j.Status != job.StatusSucceeded {
		t.Errorf("job status = %s, want succeeded", j.Status)
	}
	if string(j.Result) != `{"rows": 7}` {
		t.Errorf("stored result = %s", j.Result)
	}
	if len(f.alerts.events) != 0 {
		t.Errorf("unexpected alerts: %v", f.alerts.events)
	}
}

func TestJobRunner_FailureNotRetryable(t *testing.T) {
	f := newFixture(t)
	jid := f.seedJob(t, nil)
	ctx := context.Background()

	r := &lifecycle.JobRunner{Context: f.context()}
	result, err := r.Run(ctx, jid, func(context.Context, id.JobID) (json.RawMessage, error) {
		return nil, errors.New("schema mismatch")
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != lifecycle.ResultFailed {
		t.Fatalf("result = %s, want failed", result.Status)
	}

	j, _ := f.session.GetJob(ctx, jid)
	if j.Status != job.StatusFailed {
		t.Errorf("job status = %s, want failed", j.Status)
	}
	if j.FailureCategory != job.CategoryUnknown {
		t.Errorf("category = %s, want unknown", j.FailureCategory)
	}
	if f.queue.Len() != 0 {
		t.Error("non-retryable failure must not be re-enqueued")
	}
}

func TestJobRunner_Retry(t *testing.T) {
	f := newFixture(t)
	jid := f.seedJob(t, nil)
	ctx := context.Background()

	r := &lifecycle.JobRunner{Context: f.context()}
	result, err := r.Run(ctx, jid, func(context.Context, id.JobID) (json.RawMessage, error) {
		return nil, job.NewFailure(job.CategoryNetworkError, errors.New("connection reset"))
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != lifecycle.ResultRetried {
		t.Fatalf("result = %s, want retried", result.Status)
	}

	j, _ := f.session.GetJob(ctx, jid)
	if j.Status != job.StatusQueued {
		t.Errorf("job status = %s, want queued for retry", j.Status)
	}
	if j.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", j.RetryCount)
	}
	if f.queue.Len() != 1 {
		t.Fatalf("queue holds %d entries, want 1", f.queue.Len())
	}
}

func TestJobRunner_RetryBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	jid := f.seedJob(t, func(j *job.JobRun) {
		j.RetryCount = 3
		j.MaxRetries = 3
	})
	ctx := context.Background()

	r := &lifecycle.JobRunner{Context: f.context()}
	result, err := r.Run(ctx, jid, func(context.Context, id.JobID) (json.RawMessage, error) {
		return nil, job.NewFailure(job.CategoryNetworkError, errors.New("connection reset"))
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != lifecycle.ResultFailed {
		t.Fatalf("result = %s, want failed", result.Status)
	}
	if f.queue.Len() != 0 {
		t.Error("exhausted retry budget must not be re-enqueued")
	}
}

func TestJobRunner_CancelledBeforeRun(t *testing.T) {
	f := newFixture(t)
	jid := f.seedJob(t, func(j *job.JobRun) { j.Status = job.StatusCancelled })

	invoked := false
	r := &lifecycle.JobRunner{Context: f.context()}
	result, err := r.Run(context.Background(), jid, func(context.Context, id.JobID) (json.RawMessage, error) {
		invoked = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != lifecycle.ResultCancelled {
		t.Fatalf("result = %s, want cancelled", result.Status)
	}
	if invoked {
		t.Error("body must not run for a cancelled job")
	}
}

func TestJobRunner_TransitionRaceBecomesException(t *testing.T) {
	f := newFixture(t)
	// Another worker already started this job.
	jid := f.seedJob(t, func(j *job.JobRun) { j.Status = job.StatusRunning })

	r := &lifecycle.JobRunner{Context: f.context()}
	result, err := r.Run(context.Background(), jid, func(context.Context, id.JobID) (json.RawMessage, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != lifecycle.ResultException {
		t.Fatalf("result = %s, want exception", result.Status)
	}
	if len(f.alerts.events) != 1 {
		t.Fatalf("alerts = %d, want 1", len(f.alerts.events))
	}
	if f.alerts.events[0].Op != "job.start" {
		t.Errorf("alert op = %q, want job.start", f.alerts.events[0].Op)
	}
	if !errors.Is(f.alerts.events[0].Err, conduct.ErrInvalidTransition) {
		t.Errorf("alert err = %v, want transition error", f.alerts.events[0].Err)
	}
}

func TestJobRunner_MissingJobBecomesException(t *testing.T) {
	f := newFixture(t)

	r := &lifecycle.JobRunner{Context: f.context()}
	result, err := r.Run(context.Background(), id.NewJobID(), func(context.Context, id.JobID) (json.RawMessage, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != lifecycle.ResultException {
		t.Fatalf("result = %s, want exception", result.Status)
	}
}
