package dispatch

import (
	"context"

	"github.com/kbukum/runflow/supervisor"
	"github.com/kbukum/runflow/worker"
)

// Executor runs one attempt of a step and returns its output.
type Executor interface {
	Execute(ctx context.Context, req *worker.StepRequest) ([]byte, error)
}

// LocalExecutor calls functions in-process.
type LocalExecutor struct {
	Registry *worker.Registry
}

func (e LocalExecutor) Execute(ctx context.Context, req *worker.StepRequest) ([]byte, error) {
	return e.Registry.Call(ctx, req.Fn, req.Input())
}

// RemoteExecutor sends each attempt to a worker of the step's environment.
type RemoteExecutor struct {
	Supervisor *supervisor.Supervisor
	// Env resolves an environment name to its spec.
	Env func(name string) (supervisor.EnvSpec, error)
	// DefaultEnv is used for steps that do not name one.
	DefaultEnv string
}

func (e RemoteExecutor) Execute(ctx context.Context, req *worker.StepRequest) ([]byte, error) {
	name := req.Env
	if name == "" {
		name = e.DefaultEnv
	}
	spec, err := e.Env(name)
	if err != nil {
		return nil, err
	}
	h, err := e.Supervisor.Acquire(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer e.Supervisor.Release(h)

	res, err := h.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Output, res.Err()
}
