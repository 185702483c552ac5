package logger

import (
	"time"
)

// Standard field key constants for structured logging.
const (
	FieldComponent  = "component"
	FieldTraceID    = "trace_id"
	FieldSpanID     = "span_id"
	FieldRequestID  = "request_id"
	FieldRunID      = "run_id"
	FieldStepID     = "step_id"
	FieldJob        = "job"
	FieldRepository = "repository"
	FieldAttempt    = "attempt"
	FieldBatch      = "batch"
	FieldWorkerID   = "worker_id"
	FieldEnv        = "env"
	FieldAddress    = "address"
	FieldStatus     = "status"
	FieldError      = "error"
	FieldDuration   = "duration_ms"
)

// Fields builds a map[string]interface{} from alternating key-value pairs.
//
//	log.Info("done", logger.Fields(logger.FieldRunID, id, logger.FieldStatus, st))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// StepFields creates the fields identifying one step attempt of a run.
func StepFields(runID, stepID string, attempt int) map[string]interface{} {
	return map[string]interface{}{
		FieldRunID:   runID,
		FieldStepID:  stepID,
		FieldAttempt: attempt,
	}
}

// MergeWithError adds an error field to an existing map.
func MergeWithError(fields map[string]interface{}, err error) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields[FieldError] = err.Error()
	return fields
}

// MergeWithDuration adds a duration field to an existing map.
func MergeWithDuration(fields map[string]interface{}, d time.Duration) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields[FieldDuration] = d.Milliseconds()
	return fields
}
