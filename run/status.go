// Package run defines the persisted state of a job run and the rules for
// changing it. Every store applies updates through ApplyStepStatus and
// ApplyAttempt so the status machine is enforced in one place.
package run

import "strings"

// Status is the lifecycle state of a step or a run.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
	// StatusPartialFailure is only ever a run status.
	StatusPartialFailure Status = "PARTIAL_FAILURE"
)

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusSkipped, StatusPartialFailure:
		return st, true
	}
	return "", false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusPartialFailure:
		return true
	}
	return false
}

// CanTransition reports whether a step may move from one status to another.
// Statuses only move forward:
//
//	PENDING -> RUNNING | SKIPPED
//	RUNNING -> SUCCEEDED | FAILED
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusSkipped
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed
	}
	return false
}

// Derive computes a run status from its step statuses.
func Derive(steps []Status) Status {
	var pending, running, succeeded, failed, skipped int
	for _, s := range steps {
		switch s {
		case StatusPending:
			pending++
		case StatusRunning:
			running++
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}

	switch {
	case len(steps) == 0:
		return StatusSucceeded
	case pending == len(steps):
		return StatusPending
	case pending > 0 || running > 0:
		return StatusRunning
	case succeeded == len(steps):
		return StatusSucceeded
	case succeeded == 0 && failed > 0:
		return StatusFailed
	case succeeded > 0:
		return StatusPartialFailure
	default:
		return StatusSkipped
	}
}
