package lifecycle

import (
	"fmt"
	"log/slog"

	"github.com/xraph/conduct"
	"github.com/xraph/conduct/alert"
	"github.com/xraph/conduct/queue"
	"github.com/xraph/conduct/store"
)

// Context carries the per-invocation execution environment: one
// transactional session, the queue handle, and the alerting channel. It is
// constructed fresh for every invocation by the caller (typically the
// worker pool) and never shared — there are no process-global handles.
type Context struct {
	// DB is the transactional session for this invocation. The runners own
	// its commit boundary.
	DB store.Session

	// Queue is the task queue used for retry re-submission and pipeline
	// coordination.
	Queue queue.Enqueuer

	// Alerts receives swallowed orchestration errors. Defaults to a
	// log-backed notifier.
	Alerts alert.Notifier

	// Logger is the structured logger for the invocation. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// CorrelationID ties log lines, traces, and alerts of one logical
	// request together. Optional.
	CorrelationID string
}

// validate checks the required handles and fills in defaults. Runners call
// it before touching any state; a misconfigured context is the one error
// class they return rather than convert into a result.
func (c *Context) validate() error {
	if c.DB == nil {
		return fmt.Errorf("lifecycle: %w", conduct.ErrMissingSession)
	}
	if c.Queue == nil {
		return fmt.Errorf("lifecycle: %w", conduct.ErrMissingQueue)
	}
	if c.Alerts == nil {
		c.Alerts = alert.NewLogNotifier(c.Logger)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
