package middleware

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conduct/job"
)

// tracerName is the instrumentation scope name for conduct tracing.
const tracerName = "github.com/xraph/conduct"

// Tracing returns middleware that wraps body execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: conduct.job.id, conduct.job.function,
// conduct.pipeline.id, conduct.retry_count, conduct.correlation_id.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.JobRun, next Handler) (json.RawMessage, error) {
		attrs := []attribute.KeyValue{
			attribute.String("conduct.job.id", j.ID.String()),
			attribute.String("conduct.job.function", j.Function),
			attribute.Int("conduct.retry_count", j.RetryCount),
		}
		if !j.PipelineID.IsNil() {
			attrs = append(attrs, attribute.String("conduct.pipeline.id", j.PipelineID.String()))
		}
		if j.CorrelationID != "" {
			attrs = append(attrs, attribute.String("conduct.correlation_id", j.CorrelationID))
		}

		ctx, span := tracer.Start(ctx, "conduct.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
