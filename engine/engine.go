// Package engine ties job definitions, the run store and the dispatcher
// together. It is the entry point used by the CLI and the HTTP API.
package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kbukum/runflow/component"
	"github.com/kbukum/runflow/dispatch"
	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/plan"
	"github.com/kbukum/runflow/repository"
	"github.com/kbukum/runflow/run"
	"github.com/kbukum/runflow/store"
)

// Engine launches, resumes and cancels runs of workspace jobs.
type Engine struct {
	workspace  *repository.Workspace
	store      store.Store
	dispatcher *dispatch.Dispatcher
	log        *logger.Logger

	// background runs started with Start
	bg     context.Context
	stopBg context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine. A nil workspace is treated as empty.
func New(ws *repository.Workspace, st store.Store, d *dispatch.Dispatcher, log *logger.Logger) *Engine {
	if ws == nil {
		ws = repository.NewWorkspace()
	}
	if log == nil {
		log = logger.Nop()
	}
	bg, stop := context.WithCancel(context.Background())
	return &Engine{
		workspace:  ws,
		store:      st,
		dispatcher: d,
		log:        log.WithComponent("engine"),
		bg:         bg,
		stopBg:     stop,
	}
}

// Workspace returns the job definitions the engine serves.
func (e *Engine) Workspace() *repository.Workspace { return e.workspace }

// Store returns the run store.
func (e *Engine) Store() store.Store { return e.store }

// Submit creates a PENDING run of repo/job without executing it.
func (e *Engine) Submit(ctx context.Context, repo, job string) (string, error) {
	j, err := e.workspace.Job(repo, job)
	if err != nil {
		return "", err
	}
	id, err := e.store.CreateRun(ctx, store.NewRun{Repository: repo, JobName: j.Name, Graph: j.Graph, Plan: j.Plan})
	if err != nil {
		return "", err
	}
	e.log.Info("run created", logger.Fields(logger.FieldRunID, id, logger.FieldRepository, repo, logger.FieldJob, job))
	return id, nil
}

// Launch creates a run of repo/job and executes it to completion.
func (e *Engine) Launch(ctx context.Context, repo, job string) (*dispatch.Result, error) {
	id, err := e.Submit(ctx, repo, job)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, id)
}

// Start creates a run of repo/job and executes it in the background. The
// run keeps going after ctx ends; Close cancels it.
func (e *Engine) Start(ctx context.Context, repo, job string) (string, error) {
	id, err := e.Submit(ctx, repo, job)
	if err != nil {
		return "", err
	}
	j, _ := e.workspace.Job(repo, job)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.dispatcher.Execute(e.bg, id, j.Graph, j.Plan); err != nil {
			e.log.Warn("background run ended with error", logger.MergeWithError(logger.Fields(logger.FieldRunID, id), err))
		}
	}()
	return id, nil
}

// Execute runs an existing run with the current definition of its job.
func (e *Engine) Execute(ctx context.Context, runID string) (*dispatch.Result, error) {
	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	g, p, err := e.resolve(r)
	if err != nil {
		return nil, err
	}
	return e.dispatcher.Execute(ctx, runID, g, p)
}

// Resume continues a run left unfinished by a crash or a cancellation of
// the calling process. Completed runs are returned unchanged.
func (e *Engine) Resume(ctx context.Context, runID string) (*dispatch.Result, error) {
	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return &dispatch.Result{Run: r}, nil
	}
	e.log.Info("resuming run", logger.Fields(logger.FieldRunID, runID, logger.FieldStatus, string(r.Status)))
	return e.Execute(ctx, runID)
}

// resolve returns the graph of the run's job and the plan stored with the
// run. The job definition must still contain exactly the run's steps with
// the same functions and dependencies.
func (e *Engine) resolve(r *run.Run) (*graph.Graph, *plan.ExecutionPlan, error) {
	j, err := e.workspace.Job(r.Repository, r.JobName)
	if err != nil {
		return nil, nil, err
	}
	g := j.Graph
	if g.Len() != len(r.Steps) {
		return nil, nil, errors.Conflict(fmt.Sprintf("job %s/%s has %d steps, run %s has %d", r.Repository, r.JobName, g.Len(), r.ID, len(r.Steps)))
	}
	for id, rec := range r.Steps {
		s, ok := g.Step(id)
		if !ok {
			return nil, nil, errors.Conflict(fmt.Sprintf("step %q of run %s is no longer defined", id, r.ID))
		}
		if s.Fn != rec.Fn || !sameDeps(s.DependsOn, rec.DependsOn) {
			return nil, nil, errors.Conflict(fmt.Sprintf("step %q of run %s changed since launch", id, r.ID))
		}
	}
	p, err := plan.FromBatches(r.Batches)
	if err != nil {
		return nil, nil, err
	}
	return g, p, nil
}

func sameDeps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return slices.Equal(slices.Sorted(slices.Values(a)), slices.Sorted(slices.Values(b)))
}

// Cancel cancels a run. See dispatch.Dispatcher.Cancel.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	return e.dispatcher.Cancel(ctx, runID)
}

// GetRun returns the stored state of a run.
func (e *Engine) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	return e.store.GetRun(ctx, runID)
}

// ListRuns returns stored runs matching f, newest first.
func (e *Engine) ListRuns(ctx context.Context, f run.Filter) ([]*run.Run, error) {
	return e.store.ListRuns(ctx, f)
}

// Close cancels background runs and waits for them to record their state.
func (e *Engine) Close(ctx context.Context) error {
	e.stopBg()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Component exposes the engine to a component.Registry. Stopping it
// cancels background runs.
func (e *Engine) Component() component.Component { return engineComponent{e} }

type engineComponent struct{ e *Engine }

func (c engineComponent) Name() string { return "engine" }

func (c engineComponent) Start(ctx context.Context) error { return nil }

func (c engineComponent) Stop(ctx context.Context) error { return c.e.Close(ctx) }

func (c engineComponent) Health(ctx context.Context) component.Health {
	return component.Health{
		Name:    c.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("%d repositories", c.e.workspace.Len()),
	}
}

func (c engineComponent) Describe() component.Description {
	return component.Description{Type: "engine", Details: fmt.Sprintf("%d repositories", c.e.workspace.Len())}
}
