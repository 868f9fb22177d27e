// Package middleware provides composable middleware around domain job
// bodies. Middleware wraps body calls synchronously and can modify
// execution (recover from panics, log, add tracing, etc.).
package middleware

import (
	"context"
	"encoding/json"

	"github.com/xraph/conduct/job"
)

// Handler is the terminal function that executes the domain body and
// returns its declared result.
type Handler func(ctx context.Context) (json.RawMessage, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the job being executed, and the next handler to call.
// Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, j *job.JobRun, next Handler) (json.RawMessage, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the list
// is the outermost wrapper.
//
// Example: Chain(logging, recovery) executes as:
//
//	logging → recovery → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.JobRun, next Handler) (json.RawMessage, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (json.RawMessage, error) {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}
