package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
	mw "github.com/xraph/conduct/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tp.Tracer("test")
	return sr, tracer
}

func tracedJob() *job.JobRun {
	return &job.JobRun{
		ID:            id.NewJobID(),
		Function:      "refresh_scores",
		PipelineID:    id.NewPipelineID(),
		RetryCount:    2,
		CorrelationID: "corr-123",
	}
}

func TestTracing_CreatesSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	j := tracedJob()

	_, err := m(context.Background(), j, func(_ context.Context) (json.RawMessage, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Name() != "conduct.job.execute" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["conduct.job.function"].AsString(); got != "refresh_scores" {
		t.Errorf("function attribute = %q", got)
	}
	if got := attrs["conduct.retry_count"].AsInt64(); got != 2 {
		t.Errorf("retry_count attribute = %d", got)
	}
	if got := attrs["conduct.correlation_id"].AsString(); got != "corr-123" {
		t.Errorf("correlation_id attribute = %q", got)
	}
}

func TestTracing_RecordsError(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	sentinel := errors.New("upstream 503")
	_, err := m(context.Background(), tracedJob(), func(_ context.Context) (json.RawMessage, error) {
		return nil, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
}

func TestTracing_NoPipeline(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	j := &job.JobRun{ID: id.NewJobID(), Function: "standalone"}

	if _, err := m(context.Background(), j, func(_ context.Context) (json.RawMessage, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, kv := range sr.Ended()[0].Attributes() {
		if kv.Key == "conduct.pipeline.id" {
			t.Error("pipeline attribute present for standalone job")
		}
	}
}
