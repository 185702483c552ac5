package supervisor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kbukum/runflow/errors"
	grpccfg "github.com/kbukum/runflow/grpc"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/worker"
)

// State is the lifecycle state of a worker.
type State string

const (
	StateStarting   State = "STARTING"
	StateReady      State = "READY"
	StateTerminated State = "TERMINATED"
)

// member is a pooled worker. It outlives the handles that lease it.
type member struct {
	id     string
	env    string
	inst   Instance
	client Client

	mu    sync.Mutex
	state State
}

func (m *member) getState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *member) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Handle is one exclusive lease on a worker. It is valid until Release.
type Handle struct {
	ID      string
	Env     string
	Address grpccfg.Address

	m        *member
	sup      *Supervisor
	released atomic.Bool
}

// State returns the worker's state.
func (h *Handle) State() State { return h.m.getState() }

// Execute probes the worker and sends it one step attempt. A worker that
// fails its probe, before the call or after a transport error, is marked
// TERMINATED and the call fails with WORKER_UNAVAILABLE.
func (h *Handle) Execute(ctx context.Context, req *worker.StepRequest) (*worker.StepResult, error) {
	if h.released.Load() {
		return nil, errors.Conflict("worker handle " + h.ID + " was released")
	}
	if h.State() == StateTerminated {
		return nil, errors.WorkerUnavailable(h.ID, nil)
	}
	if err := h.sup.probe(ctx, h.m); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, h.terminate(err)
	}

	res, err := h.m.client.Execute(ctx, req)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if perr := h.sup.probe(ctx, h.m); perr != nil {
		return nil, h.terminate(err)
	}
	return nil, err
}

func (h *Handle) terminate(cause error) error {
	h.m.setState(StateTerminated)
	h.sup.log.Warn("worker failed liveness probe", map[string]interface{}{
		logger.FieldWorkerID: h.ID,
		logger.FieldEnv:      h.Env,
		logger.FieldError:    cause.Error(),
	})
	return errors.WorkerUnavailable(h.ID, cause)
}
