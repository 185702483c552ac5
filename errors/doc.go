// Package errors defines AppError, the structured error carried through
// runflow. Every error has a Code, a message and an HTTP status. Codes
// decide retry behavior: IsRetryableCode reports which ones a retry can
// fix.
//
//	if errors.HasCode(err, errors.ErrCodeNotFound) {
//	    // unknown repository, job or run
//	}
package errors
