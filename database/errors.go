package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	apperrors "github.com/kbukum/runflow/errors"
)

var connectionPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"no route to host",
	"network is unreachable",
	"connection closed",
	"driver: bad connection",
}

var transientPatterns = []string{
	"deadlock",
	"lock timeout",
	"database is locked",
	"too many connections",
	"could not serialize access",
}

// IsConnectionError reports whether err looks like a lost connection.
func IsConnectionError(err error) bool {
	return containsAny(err, connectionPatterns)
}

// IsRetryableError reports whether retrying the operation may succeed.
func IsRetryableError(err error) bool {
	return IsConnectionError(err) || containsAny(err, transientPatterns)
}

func containsAny(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// FromDatabase converts a GORM or driver error into an AppError.
func FromDatabase(err error, resource string) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if app, ok := apperrors.AsAppError(err); ok {
		return app
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.NotFound(resource, "")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperrors.AlreadyExists(resource).WithCause(err)
	case IsRetryableError(err):
		return apperrors.DatabaseError(err)
	default:
		e := apperrors.DatabaseError(err)
		e.Retryable = false
		return e
	}
}
