package worker

import (
	"net/http"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/repository"
)

// StepRequest asks a worker to run one attempt of a step.
type StepRequest struct {
	RunID      string   `json:"run_id"`
	Repository string   `json:"repository,omitempty"`
	Job        string   `json:"job,omitempty"`
	StepID     string   `json:"step_id"`
	Fn         string   `json:"fn"`
	Env        string   `json:"env,omitempty"`
	Attempt    int      `json:"attempt"`
	Args       []string `json:"args,omitempty"`
	// Upstream holds the outputs of the step's direct dependencies.
	Upstream map[string][]byte `json:"upstream,omitempty"`
}

// Input converts the request into the arguments of a Func.
func (r *StepRequest) Input() Input {
	return Input{
		RunID:    r.RunID,
		StepID:   r.StepID,
		Env:      r.Env,
		Attempt:  r.Attempt,
		Args:     r.Args,
		Upstream: r.Upstream,
	}
}

// StepResult is the outcome of a step attempt. Error is empty on success.
type StepResult struct {
	Output    []byte `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Failed reports whether the step code failed.
func (r *StepResult) Failed() bool { return r.Error != "" }

// Err returns the step failure, or nil on success.
func (r *StepResult) Err() error {
	if !r.Failed() {
		return nil
	}
	code := errors.ErrorCode(r.ErrorCode)
	if code == "" {
		code = errors.ErrCodeStepExecution
	}
	return errors.New(code, r.Error, http.StatusInternalServerError)
}

// ResultFor builds the result of running a Func.
func ResultFor(output []byte, err error) *StepResult {
	if err == nil {
		return &StepResult{Output: output}
	}
	res := &StepResult{Output: output, Error: err.Error()}
	if appErr, ok := errors.AsAppError(err); ok {
		res.ErrorCode = string(appErr.Code)
		res.Error = appErr.Message
	}
	return res
}

// ListRequest selects repositories. Location may be the worker's own
// address, which matches everything it serves.
type ListRequest struct {
	Repository string `json:"repository,omitempty"`
	Location   string `json:"location,omitempty"`
}

// ListResponse carries the worker's repositories.
type ListResponse struct {
	Repositories []repository.Listing `json:"repositories"`
}
