package conduct

import "errors"

var (
	// Not found errors.
	ErrJobNotFound      = errors.New("conduct: job not found")
	ErrPipelineNotFound = errors.New("conduct: pipeline not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conduct: job already exists")

	// Connection errors: the datastore is unreachable or a row fetch failed.
	ErrConnection = errors.New("conduct: datastore connection failed")

	// Transition errors: the requested operation is invalid for the record's
	// current status (e.g. starting an already-running job). Always raised to
	// the immediate caller; the lifecycle wrappers convert them into results.
	ErrInvalidTransition = errors.New("conduct: invalid state transition")

	// State errors: a record or dependency edge carries corrupted data.
	ErrCorruptState = errors.New("conduct: corrupted record state")

	// Coordination errors: a queue submission failed during enqueue. A job
	// that failed to enqueue must not be silently lost, so these propagate
	// out of the pipeline manager.
	ErrCoordination = errors.New("conduct: pipeline coordination failed")

	// Lifecycle context configuration errors.
	ErrMissingSession = errors.New("conduct: no datastore session in execution context")
	ErrMissingQueue   = errors.New("conduct: no queue handle in execution context")
)
