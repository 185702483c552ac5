package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Graph construction and planning errors. These are reported before any run
// is created.
const (
	// ErrCodeDuplicateStep indicates a step id was registered twice in one graph.
	ErrCodeDuplicateStep ErrorCode = "DUPLICATE_STEP"
	// ErrCodeUnknownDependency indicates a step depends on an id missing from its graph.
	ErrCodeUnknownDependency ErrorCode = "UNKNOWN_DEPENDENCY"
	// ErrCodeCycle indicates the dependency graph contains a cycle.
	ErrCodeCycle ErrorCode = "CYCLE"
	// ErrCodePlanning indicates the planner could not schedule every step.
	ErrCodePlanning ErrorCode = "PLANNING"
)

// Worker infrastructure errors (retryable)
const (
	// ErrCodeWorkerStartup indicates a worker did not become ready in time.
	ErrCodeWorkerStartup ErrorCode = "WORKER_STARTUP"
	// ErrCodeWorkerUnavailable indicates a worker stopped answering its liveness probe.
	ErrCodeWorkerUnavailable ErrorCode = "WORKER_UNAVAILABLE"
	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeServiceUnavailable indicates a dependency is temporarily unavailable.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Run execution errors
const (
	// ErrCodeStepExecution indicates user step code failed.
	ErrCodeStepExecution ErrorCode = "STEP_EXECUTION"
	// ErrCodeInvalidTransition indicates a step status change that would move backwards.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrCodeCanceled indicates the run was canceled.
	ErrCodeCanceled ErrorCode = "CANCELED"
)

// Resource errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeAlreadyExists indicates the resource already exists.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// ErrCodeConflict indicates a conflict with the current state of the resource.
	ErrCodeConflict ErrorCode = "CONFLICT"
)

// Validation errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeInvalidConfig indicates a configuration value is invalid or contradictory.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Authentication errors
const (
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
)

// Internal errors
const (
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrCodeDatabaseError indicates a persistence failure.
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeWorkerStartup:      true,
	ErrCodeWorkerUnavailable:  true,
	ErrCodeTimeout:            true,
	ErrCodeServiceUnavailable: true,
	ErrCodeDatabaseError:      true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}

// IsInfrastructureCode reports whether the code describes a failure of the
// execution machinery rather than of user step code.
func IsInfrastructureCode(code ErrorCode) bool {
	switch code {
	case ErrCodeWorkerStartup, ErrCodeWorkerUnavailable, ErrCodeServiceUnavailable, ErrCodeTimeout:
		return true
	}
	return false
}
