// Package alert provides the fire-and-forget notification channel used by
// the lifecycle wrappers whenever an orchestration error is swallowed
// rather than propagated. A notified error has already been converted into
// a structured result; the alert is how operators find out.
package alert

import (
	"context"
	"log/slog"

	"github.com/xraph/conduct/id"
)

// Event describes one swallowed orchestration error.
type Event struct {
	// Op names the lifecycle operation that failed (e.g. "job.start",
	// "pipeline.coordinate").
	Op string

	JobID         id.JobID
	PipelineID    id.PipelineID
	CorrelationID string

	Err error
}

// Notifier delivers events to an external alerting channel. Notify must
// not block the caller on delivery and must never return an error to it;
// a failing alert channel must not take the worker down with it.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// LogNotifier reports events through a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier returns a notifier writing to the given logger, or
// slog.Default() when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

// Notify logs the event at error level.
func (n *LogNotifier) Notify(_ context.Context, ev Event) {
	attrs := []any{
		slog.String("op", ev.Op),
		slog.String("error", errString(ev.Err)),
	}
	if !ev.JobID.IsNil() {
		attrs = append(attrs, slog.String("job_id", ev.JobID.String()))
	}
	if !ev.PipelineID.IsNil() {
		attrs = append(attrs, slog.String("pipeline_id", ev.PipelineID.String()))
	}
	if ev.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", ev.CorrelationID))
	}
	n.Logger.Error("orchestration error reported", attrs...)
}

// Nop is a Notifier that discards all events.
type Nop struct{}

var _ Notifier = Nop{}

// Notify discards the event.
func (Nop) Notify(context.Context, Event) {}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
