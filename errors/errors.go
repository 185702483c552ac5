package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// AsAppError returns the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsAppError reports whether err's chain holds an AppError.
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}

// --- Graph construction ---

// DuplicateStep reports a step id registered twice.
func DuplicateStep(id string) *AppError {
	return &AppError{
		Code: ErrCodeDuplicateStep, Message: fmt.Sprintf("step %q is already defined", id),
		HTTPStatus: http.StatusBadRequest, Details: map[string]any{"step": id},
	}
}

// UnknownDependency reports a dependency on an id that is not part of the graph.
func UnknownDependency(step, dependency string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownDependency,
		Message:    fmt.Sprintf("step %q depends on unknown step %q", step, dependency),
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"step": step, "dependency": dependency},
	}
}

// Cycle reports a dependency cycle. path lists the step ids of the cycle in
// order with the first id repeated at the end.
func Cycle(path []string) *AppError {
	return &AppError{
		Code:       ErrCodeCycle,
		Message:    "dependency cycle: " + strings.Join(path, " -> "),
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"cycle": path},
	}
}

// Planning reports that some steps could never be scheduled.
func Planning(unscheduled []string) *AppError {
	return &AppError{
		Code:       ErrCodePlanning,
		Message:    fmt.Sprintf("%d step(s) could not be scheduled", len(unscheduled)),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"steps": unscheduled},
	}
}

// --- Workers ---

// WorkerStartup reports a worker that did not answer its probe within the startup timeout.
func WorkerStartup(env string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeWorkerStartup, Message: fmt.Sprintf("worker for env %q failed to start", env),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"env": env}, Cause: cause,
	}
}

// WorkerUnavailable reports a worker whose liveness probe failed.
func WorkerUnavailable(workerID string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeWorkerUnavailable, Message: fmt.Sprintf("worker %s is unavailable", workerID),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"worker": workerID}, Cause: cause,
	}
}

// --- Execution ---

// StepExecution reports a failed step. cause carries the error chain from
// user code or from the infrastructure error that exhausted its retries.
func StepExecution(step string, attempt int, cause error) *AppError {
	return &AppError{
		Code:       ErrCodeStepExecution,
		Message:    fmt.Sprintf("step %q failed on attempt %d", step, attempt),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"step": step, "attempt": attempt},
		Cause:      cause,
	}
}

// InvalidTransition reports a status change that would move a step backwards.
func InvalidTransition(step, from, to string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("step %q cannot move from %s to %s", step, from, to),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"step": step, "from": from, "to": to},
	}
}

// Canceled reports a canceled run.
func Canceled(runID string) *AppError {
	return &AppError{
		Code: ErrCodeCanceled, Message: fmt.Sprintf("run %s was canceled", runID),
		HTTPStatus: http.StatusConflict, Details: map[string]any{"run": runID},
	}
}

// --- Generic ---

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Details: details,
	}
}

// AlreadyExists creates a new AppError for a resource that already exists.
func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code: ErrCodeAlreadyExists, Message: fmt.Sprintf("A %s with these details already exists.", resource),
		HTTPStatus: http.StatusConflict, Details: map[string]any{"resource": resource},
	}
}

// Conflict creates a new AppError for a conflict with the current state of the resource.
func Conflict(reason string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: reason, HTTPStatus: http.StatusConflict}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message, HTTPStatus: http.StatusBadRequest}
}

// InvalidConfig creates a new AppError for a bad configuration value.
func InvalidConfig(key, reason string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("invalid configuration %s: %s", key, reason),
		HTTPStatus: http.StatusBadRequest, Details: map[string]any{"key": key},
	}
}

// Unauthorized creates a new AppError for unauthorized access.
func Unauthorized(reason string) *AppError {
	if reason == "" {
		reason = "Authentication required."
	}
	return &AppError{Code: ErrCodeUnauthorized, Message: reason, HTTPStatus: http.StatusUnauthorized}
}

// InvalidToken creates a new AppError for an invalid bearer token.
func InvalidToken() *AppError {
	return &AppError{
		Code: ErrCodeInvalidToken, Message: "Invalid authentication token.",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// ServiceUnavailable creates a new AppError for a dependency that is temporarily unavailable.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code: ErrCodeServiceUnavailable, Message: fmt.Sprintf("The %s is temporarily unavailable.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// Timeout creates a new AppError for an operation that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// Internal creates a new AppError for an internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Cause: cause,
	}
}

// DatabaseError creates a new AppError for a persistence failure.
func DatabaseError(cause error) *AppError {
	return &AppError{
		Code: ErrCodeDatabaseError, Message: "A database error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: true, Cause: cause,
	}
}
