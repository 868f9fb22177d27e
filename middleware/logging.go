package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/xraph/conduct/job"
)

// Logging returns middleware that logs body start, completion, and
// duration.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.JobRun, next Handler) (json.RawMessage, error) {
		logger.Info("job body starting",
			slog.String("function", j.Function),
			slog.String("job_id", j.ID.String()),
			slog.Int("retry_count", j.RetryCount),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job body failed",
				slog.String("function", j.Function),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job body completed",
				slog.String("function", j.Function),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return result, err
	}
}
