package alert

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// SentryOptions configures the Sentry alerting channel.
type SentryOptions struct {
	DSN         string
	ServerName  string
	Release     string
	Environment string
}

// SentryNotifier reports swallowed orchestration errors to Sentry. Tags
// carry the job, pipeline, and correlation identifiers so events group by
// operation.
type SentryNotifier struct {
	hub *sentry.Hub
}

var _ Notifier = (*SentryNotifier)(nil)

// NewSentryNotifier initializes a Sentry client and returns a notifier
// backed by its own hub, so concurrent notifications do not share scope.
func NewSentryNotifier(opt SentryOptions) (*SentryNotifier, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opt.DSN,
		AttachStacktrace: true,
		ServerName:       opt.ServerName,
		Release:          opt.Release,
		Environment:      opt.Environment,
	})
	if err != nil {
		return nil, err
	}
	return &SentryNotifier{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Notify captures the event's error. Delivery is asynchronous; failures
// are dropped.
func (n *SentryNotifier) Notify(_ context.Context, ev Event) {
	if ev.Err == nil {
		return
	}

	hub := n.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("op", ev.Op)
		if !ev.JobID.IsNil() {
			scope.SetTag("job_id", ev.JobID.String())
		}
		if !ev.PipelineID.IsNil() {
			scope.SetTag("pipeline_id", ev.PipelineID.String())
		}
		if ev.CorrelationID != "" {
			scope.SetTag("correlation_id", ev.CorrelationID)
		}
		hub.CaptureException(ev.Err)
	})
}
