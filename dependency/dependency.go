package dependency

import (
	"github.com/xraph/conduct"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
)

// Type determines what a dependency demands of its upstream job.
type Type string

const (
	// SuccessRequired means the upstream job must finish with a succeeded
	// status. Any other terminal outcome makes the dependency permanently
	// unfulfillable.
	SuccessRequired Type = "success_required"

	// CompletionRequired means the upstream job must merely reach a
	// terminal status; the outcome does not matter. A completion-required
	// dependency can never become unfulfillable.
	CompletionRequired Type = "completion_required"
)

// Dependency is one directed edge of a pipeline's job graph: JobID waits
// on DependsOnID.
type Dependency struct {
	conduct.Entity

	JobID       id.JobID `json:"job_id"`
	DependsOnID id.JobID `json:"depends_on_id"`
	Type        Type     `json:"type"`
}

// Edge pairs a dependency with the resolved upstream job so predicates can
// be evaluated without further store round-trips.
type Edge struct {
	Dependency
	DependsOn *job.JobRun
}

// IsMet reports whether the upstream job's status satisfies the
// dependency.
func (e Edge) IsMet() bool {
	switch e.Type {
	case SuccessRequired:
		return e.DependsOn.Status == job.StatusSucceeded
	case CompletionRequired:
		return e.DependsOn.Status.Terminal()
	}
	return false
}

// Unfulfillable reports whether the dependency can no longer be satisfied
// by any future transition of the upstream job. Downstream jobs with an
// unfulfillable dependency are skipped rather than left waiting forever.
func (e Edge) Unfulfillable() bool {
	switch e.Type {
	case SuccessRequired:
		return e.DependsOn.Status.Terminal() && e.DependsOn.Status != job.StatusSucceeded
	case CompletionRequired:
		// Every terminal status satisfies completion.
		return false
	}
	return false
}

// AllMet reports whether every edge is satisfied. An empty edge set is
// trivially met.
func AllMet(edges []Edge) bool {
	for _, e := range edges {
		if !e.IsMet() {
			return false
		}
	}
	return true
}

// AnyUnfulfillable reports whether at least one edge can never be
// satisfied.
func AnyUnfulfillable(edges []Edge) bool {
	for _, e := range edges {
		if e.Unfulfillable() {
			return true
		}
	}
	return false
}
