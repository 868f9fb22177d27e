package lifecycle_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/conduct/dependency"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
	"github.com/xraph/conduct/lifecycle"
	"github.com/xraph/conduct/pipeline"
)

func (f *fixture) seedPipeline(t *testing.T, status pipeline.Status) id.PipelineID {
	t.Helper()
	p := &pipeline.Pipeline{
		ID:     id.NewPipelineID(),
		Name:   "score-refresh",
		Status: status,
	}
	if err := f.session.CreatePipeline(context.Background(), p); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	return p.ID
}

func TestPipelineRunner_PassThroughWithoutPipeline(t *testing.T) {
	f := newFixture(t)
	jid := f.seedJob(t, nil)

	r := &lifecycle.PipelineRunner{Job: lifecycle.JobRunner{Context: f.context()}}
	result := r.Run(context.Background(), jid, func(context.Context, id.JobID) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	})

	if result.Status != lifecycle.ResultSucceeded {
		t.Fatalf("result = %s, want succeeded", result.Status)
	}
}

func TestPipelineRunner_CoordinatesAfterSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pid := f.seedPipeline(t, pipeline.StatusCreated)
	a := f.seedJob(t, func(j *job.JobRun) {
		j.Function = "extract"
		j.PipelineID = pid
		j.Status = job.StatusQueued
	})
	b := f.seedJob(t, func(j *job.JobRun) {
		j.Function = "load"
		j.PipelineID = pid
		j.Status = job.StatusPending
	})
	d := &dependency.Dependency{JobID: b, DependsOnID: a, Type: dependency.SuccessRequired}
	if err := f.session.CreateDependency(ctx, d); err != nil {
		t.Fatalf("CreateDependency: %v", err)
	}

	r := &lifecycle.PipelineRunner{Job: lifecycle.JobRunner{Context: f.context()}}
	result := r.Run(ctx, a, func(context.Context, id.JobID) (json.RawMessage, error) {
		return nil, nil
	})

	if result.Status != lifecycle.ResultSucceeded {
		t.Fatalf("result = %s, want succeeded", result.Status)
	}

	// The created pipeline was started and the dependent job enqueued by
	// the post-step coordination.
	p, _ := f.session.GetPipeline(ctx, pid)
	if p.Status != pipeline.StatusRunning {
		t.Errorf("pipeline = %s, want running", p.Status)
	}
	jb, _ := f.session.GetJob(ctx, b)
	if jb.Status != job.StatusQueued {
		t.Errorf("job B = %s, want queued", jb.Status)
	}
	if f.queue.Len() != 1 {
		t.Errorf("queue holds %d entries, want 1", f.queue.Len())
	}
}

func TestPipelineRunner_FailureResolvesPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pid := f.seedPipeline(t, pipeline.StatusRunning)
	a := f.seedJob(t, func(j *job.JobRun) {
		j.Function = "extract"
		j.PipelineID = pid
		j.Status = job.StatusQueued
	})
	b := f.seedJob(t, func(j *job.JobRun) {
		j.Function = "load"
		j.PipelineID = pid
		j.Status = job.StatusPending
	})
	d := &dependency.Dependency{JobID: b, DependsOnID: a, Type: dependency.SuccessRequired}
	if err := f.session.CreateDependency(ctx, d); err != nil {
		t.Fatalf("CreateDependency: %v", err)
	}

	r := &lifecycle.PipelineRunner{Job: lifecycle.JobRunner{Context: f.context()}}
	result := r.Run(ctx, a, func(context.Context, id.JobID) (json.RawMessage, error) {
		return nil, errors.New("schema mismatch")
	})

	if result.Status != lifecycle.ResultFailed {
		t.Fatalf("result = %s, want failed", result.Status)
	}

	p, _ := f.session.GetPipeline(ctx, pid)
	if p.Status != pipeline.StatusFailed {
		t.Errorf("pipeline = %s, want failed", p.Status)
	}
	jb, _ := f.session.GetJob(ctx, b)
	if jb.Status != job.StatusSkipped {
		t.Errorf("job B = %s, want skipped", jb.Status)
	}
	if f.queue.Len() != 0 {
		t.Error("no job may be enqueued after pipeline failure")
	}
}

func TestPipelineRunner_MissingContextNeverRaises(t *testing.T) {
	r := &lifecycle.PipelineRunner{}
	result := r.Run(context.Background(), id.NewJobID(), func(context.Context, id.JobID) (json.RawMessage, error) {
		return nil, nil
	})
	if result.Status != lifecycle.ResultException {
		t.Fatalf("result = %s, want exception", result.Status)
	}
}

func TestPipelineRunner_MissingJobBecomesException(t *testing.T) {
	f := newFixture(t)

	r := &lifecycle.PipelineRunner{Job: lifecycle.JobRunner{Context: f.context()}}
	result := r.Run(context.Background(), id.NewJobID(), func(context.Context, id.JobID) (json.RawMessage, error) {
		return nil, nil
	})
	if result.Status != lifecycle.ResultException {
		t.Fatalf("result = %s, want exception", result.Status)
	}
	if len(f.alerts.events) == 0 {
		t.Fatal("expected an alert for the unresolved job")
	}
}
