package dispatch

import (
	stderrors "errors"
	"fmt"

	"github.com/kbukum/runflow/run"
)

// StepFailure describes a step that failed after its last attempt.
type StepFailure struct {
	StepID   string
	Attempts int
	Err      error
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", f.StepID, f.Attempts, f.Err)
}

func (f *StepFailure) Unwrap() error { return f.Err }

// Result is the outcome of Execute.
type Result struct {
	// Run is the final stored state of the run.
	Run *run.Run
	// Executed lists the steps dispatched by this call, in completion order.
	Executed []string
	// Reused lists steps that had already succeeded and were not re-run.
	Reused []string
	// Failures lists the steps that failed in this call.
	Failures []*StepFailure
	// Canceled reports whether the run was canceled or hit its deadline.
	Canceled bool
}

// Status returns the final run status.
func (r *Result) Status() run.Status {
	if r.Run == nil {
		return run.StatusPending
	}
	return r.Run.Status
}

// Outcome returns the stored record of a step.
func (r *Result) Outcome(stepID string) (*run.StepRecord, bool) {
	if r.Run == nil {
		return nil, false
	}
	rec, ok := r.Run.Steps[stepID]
	return rec, ok
}

// Err joins the step failures. It is nil when no step failed.
func (r *Result) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return stderrors.Join(errs...)
}
