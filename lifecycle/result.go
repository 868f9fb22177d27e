package lifecycle

import (
	"encoding/json"

	"github.com/xraph/conduct/id"
)

// ResultStatus classifies the outcome of one wrapped invocation.
type ResultStatus string

const (
	// ResultSucceeded means the body returned normally and the job is
	// terminal succeeded.
	ResultSucceeded ResultStatus = "succeeded"
	// ResultFailed means the body failed and the retry budget or policy
	// denied another attempt.
	ResultFailed ResultStatus = "failed"
	// ResultRetried means the body failed and the job was returned to
	// pending and re-submitted to the queue.
	ResultRetried ResultStatus = "retried"
	// ResultCancelled means the job was found cancelled before the body
	// ran.
	ResultCancelled ResultStatus = "cancelled"
	// ResultSkipped means the job was found skipped before the body ran.
	ResultSkipped ResultStatus = "skipped"
	// ResultException means an orchestration error was swallowed: the
	// invocation did not complete its normal flow and the error went to
	// the alert channel.
	ResultException ResultStatus = "exception"
)

// Result is the invocation outcome returned by the runners. Past context
// validation a runner always produces a Result, never an error — the
// worker process must not crash on orchestration failures.
type Result struct {
	Status ResultStatus `json:"status"`
	JobID  id.JobID     `json:"job_id"`

	// Output is the body's declared result, when it ran.
	Output json.RawMessage `json:"output,omitempty"`

	// Error carries the body or orchestration error message for failed and
	// exception results.
	Error string `json:"error,omitempty"`
}
