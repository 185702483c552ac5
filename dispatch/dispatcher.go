package dispatch

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/graph"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/observability"
	"github.com/kbukum/runflow/plan"
	"github.com/kbukum/runflow/resilience"
	"github.com/kbukum/runflow/run"
	"github.com/kbukum/runflow/store"
	"github.com/kbukum/runflow/worker"
)

// Retry kinds reported to metrics and logs.
const (
	KindStep           = "step"
	KindInfrastructure = "infrastructure"
)

// storeRetry governs retries of store writes that fail with a retryable error.
var storeRetry = resilience.RetryConfig{
	MaxAttempts: 3,
	Backoff:     resilience.Backoff{Initial: 50 * time.Millisecond, Max: time.Second, Factor: 2},
	RetryIf:     errors.IsRetryable,
}

// Dispatcher executes runs against a store and an executor.
type Dispatcher struct {
	store   store.Store
	exec    Executor
	cfg     Config
	log     *logger.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *logger.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMetrics enables step and run metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock replaces time.Now for recorded timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher. cfg is defaulted but not validated.
func New(st store.Store, exec Executor, cfg Config, opts ...Option) *Dispatcher {
	cfg.ApplyDefaults()
	d := &Dispatcher{
		store:  st,
		exec:   exec,
		cfg:    cfg,
		log:    logger.Nop(),
		now:    time.Now,
		active: make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithComponent("dispatcher")
	return d
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config { return d.cfg }

// Active reports whether runID is executing in this process.
func (d *Dispatcher) Active(runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[runID]
	return ok
}

func (d *Dispatcher) register(runID string, a *activeRun) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[runID]; ok {
		return false
	}
	d.active[runID] = a
	return true
}

func (d *Dispatcher) unregister(runID string, a *activeRun) {
	d.mu.Lock()
	delete(d.active, runID)
	d.mu.Unlock()
	close(a.done)
}

// Execute drives the stored run runID to a terminal state following p.
//
// Steps already SUCCEEDED are reused. When ctx is done, steps in flight are
// recorded FAILED, pending steps SKIPPED, and a CANCELED error is returned
// together with the result. A store failure stops the run and is returned
// as is.
func (d *Dispatcher) Execute(ctx context.Context, runID string, g *graph.Graph, p *plan.ExecutionPlan) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a := &activeRun{cancel: cancel, done: make(chan struct{})}
	if !d.register(runID, a) {
		return nil, errors.Conflict("run " + runID + " is already executing")
	}
	defer d.unregister(runID, a)

	r, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return &Result{Run: r}, nil
	}

	runCtx, span := observability.StartSpan(runCtx, observability.SpanRun,
		trace.WithAttributes(
			attribute.String(observability.AttrRunID, runID),
			attribute.String(observability.AttrRepository, r.Repository),
			attribute.String(observability.AttrJob, r.JobName),
		))
	defer span.End()

	e := newExecution(d, runCtx, r, g)
	log := d.log.WithFields(logger.Fields(logger.FieldRunID, runID, logger.FieldRepository, r.Repository, logger.FieldJob, r.JobName))
	log.Info("run started", logger.Fields("batches", p.NumBatches(), "steps", p.Len()))
	start := time.Now()

	for i, batch := range p.Batches() {
		if e.stopped() {
			break
		}
		e.runBatch(i, batch)
	}

	canceled := e.canceled()
	if e.storeErr() == nil {
		var cause error = errors.Conflict("run aborted after a step failure")
		if canceled {
			cause = errors.Canceled(runID).WithCause(runCtx.Err())
		}
		e.finishRemaining(cause)
	}

	res := e.result
	res.Canceled = canceled
	final, err := d.store.GetRun(e.write, runID)
	if err != nil && e.storeErr() == nil {
		return res, err
	}
	res.Run = final

	fields := logger.MergeWithDuration(logger.Fields(
		"executed", len(res.Executed), "reused", len(res.Reused), "failed", len(res.Failures),
	), time.Since(start))

	if err := e.storeErr(); err != nil {
		observability.SetSpanError(runCtx, err)
		log.Error("run stopped by store failure", logger.MergeWithError(fields, err))
		return res, err
	}
	status := res.Status()
	fields[logger.FieldStatus] = string(status)
	d.metrics.RecordRun(e.write, r.Repository, r.JobName, string(status))
	span.SetAttributes(attribute.String(observability.AttrStatus, string(status)))
	if canceled {
		err := errors.Canceled(runID).WithCause(runCtx.Err())
		observability.SetSpanError(runCtx, err)
		log.Warn("run canceled", fields)
		return res, err
	}
	log.Info("run finished", fields)
	return res, nil
}

// Cancel stops runID. A run executing in this process is interrupted and
// Cancel waits for it to wind down. Otherwise the pending steps of the stored
// run are marked SKIPPED; steps RUNNING elsewhere are left to their owner.
func (d *Dispatcher) Cancel(ctx context.Context, runID string) error {
	d.mu.Lock()
	a := d.active[runID]
	d.mu.Unlock()
	if a != nil {
		a.cancel()
		select {
		case <-a.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return nil
	}
	now := d.now()
	for _, id := range r.StepIDs() {
		if r.Steps[id].Status != run.StatusPending {
			continue
		}
		err := resilience.RetryFunc(ctx, storeRetry, func(int) error {
			return d.store.RecordStepStatus(ctx, runID, id, run.StatusSkipped, now)
		})
		if err != nil && !errors.HasCode(err, errors.ErrCodeInvalidTransition) {
			return err
		}
	}
	d.log.Info("pending steps skipped", logger.Fields(logger.FieldRunID, runID))
	return nil
}

// execution is the state of one Execute call.
type execution struct {
	d     *Dispatcher
	ctx   context.Context
	write context.Context
	runID string
	repo  string
	job   string
	g     *graph.Graph
	bh    *resilience.Bulkhead

	mu       sync.Mutex
	status   map[string]run.Status
	attempts map[string]int
	outputs  map[string][]byte
	result   *Result
	aborted  bool
	serr     error
	// interrupted is set when cancellation stopped a step in flight.
	interrupted bool
}

func newExecution(d *Dispatcher, ctx context.Context, r *run.Run, g *graph.Graph) *execution {
	e := &execution{
		d:        d,
		ctx:      ctx,
		write:    context.WithoutCancel(ctx),
		runID:    r.ID,
		repo:     r.Repository,
		job:      r.JobName,
		g:        g,
		bh:       resilience.NewBulkhead(resilience.BulkheadConfig{Name: "run-" + r.ID, MaxConcurrent: d.cfg.Concurrency}),
		status:   make(map[string]run.Status, len(r.Steps)),
		attempts: make(map[string]int, len(r.Steps)),
		outputs:  make(map[string][]byte),
		result:   &Result{},
	}
	for id, rec := range r.Steps {
		e.status[id] = rec.Status
		n := rec.Attempt
		for _, a := range rec.Attempts {
			if a.Number > n {
				n = a.Number
			}
		}
		e.attempts[id] = n
		if rec.Status == run.StatusSucceeded {
			e.outputs[id] = rec.Output
		}
	}
	return e
}

func (e *execution) statusOf(id string) run.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status[id]
}

func (e *execution) stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted || e.serr != nil || e.ctx.Err() != nil
}

// canceled reports whether cancellation cut the run short: a step was
// interrupted or steps remain that were never dispatched.
func (e *execution) canceled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.serr != nil || e.ctx.Err() == nil {
		return false
	}
	if e.interrupted {
		return true
	}
	for _, st := range e.status {
		if !st.Terminal() {
			return true
		}
	}
	return false
}

func (e *execution) storeErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.serr
}

func (e *execution) setStoreErr(err error) {
	e.mu.Lock()
	if e.serr == nil {
		e.serr = err
	}
	e.mu.Unlock()
}

// runBatch dispatches the runnable steps of one batch and waits for all of
// them to finish.
func (e *execution) runBatch(index int, batch []string) {
	var wg sync.WaitGroup
	for _, id := range batch {
		switch e.statusOf(id) {
		case run.StatusSucceeded:
			e.mu.Lock()
			e.result.Reused = append(e.result.Reused, id)
			e.mu.Unlock()
			continue
		case run.StatusFailed, run.StatusSkipped:
			continue
		}
		if !e.depsSucceeded(id) {
			e.skip(id)
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			release, err := e.bh.Acquire(e.ctx)
			if err != nil {
				return
			}
			defer release()
			if e.stopped() {
				return
			}
			e.runStep(id)
		}(id)
	}
	wg.Wait()
	e.d.log.Debug("batch done", logger.Fields(logger.FieldRunID, e.runID, logger.FieldBatch, index))
}

func (e *execution) depsSucceeded(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range e.g.Dependencies(id) {
		if e.status[dep] != run.StatusSucceeded {
			return false
		}
	}
	return true
}

// record writes a status change, retrying retryable store errors. The
// write uses a context that outlives cancellation of the run.
func (e *execution) record(id string, st run.Status, opts ...store.StepOption) error {
	at := e.d.now()
	err := resilience.RetryFunc(e.write, storeRetry, func(int) error {
		return e.d.store.RecordStepStatus(e.write, e.runID, id, st, at, opts...)
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.status[id] = st
	e.mu.Unlock()
	return nil
}

func (e *execution) recordAttempt(id string, a run.Attempt) error {
	return resilience.RetryFunc(e.write, storeRetry, func(int) error {
		return e.d.store.RecordAttempt(e.write, e.runID, id, a)
	})
}

// skip marks a pending step SKIPPED. Steps that already moved on are left
// alone.
func (e *execution) skip(id string) {
	if e.statusOf(id) != run.StatusPending {
		return
	}
	if err := e.record(id, run.StatusSkipped); err != nil && !errors.HasCode(err, errors.ErrCodeInvalidTransition) {
		e.setStoreErr(err)
	}
}

// finishRemaining settles every step that is not terminal once dispatching
// stopped: PENDING steps are skipped and RUNNING steps left over from a
// previous process are failed with cause.
func (e *execution) finishRemaining(cause error) {
	for _, id := range e.g.IDs() {
		switch e.statusOf(id) {
		case run.StatusPending:
			e.skip(id)
		case run.StatusRunning:
			if err := e.record(id, run.StatusFailed, store.WithError(cause)); err != nil {
				e.setStoreErr(err)
			}
		}
	}
}

func (e *execution) upstream(id string) map[string][]byte {
	deps := e.g.Dependencies(id)
	if len(deps) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]byte, len(deps))
	for _, dep := range deps {
		out[dep] = e.outputs[dep]
	}
	return out
}

// storeFailure marks an error from the store inside the attempt loop so it
// is neither retried nor recorded as a step failure.
type storeFailure struct{ err error }

func (s *storeFailure) Error() string { return s.err.Error() }
func (s *storeFailure) Unwrap() error { return s.err }

// runStep executes one step with retries and records its outcome.
func (e *execution) runStep(id string) {
	step, _ := e.g.Step(id)
	e.mu.Lock()
	base := e.attempts[id]
	e.mu.Unlock()

	if err := e.record(id, run.StatusRunning, store.WithAttempt(base+1)); err != nil {
		e.setStoreErr(err)
		return
	}

	req := &worker.StepRequest{
		RunID:      e.runID,
		Repository: e.repo,
		Job:        e.job,
		StepID:     id,
		Fn:         step.Fn,
		Env:        step.Env,
		Args:       step.Args,
		Upstream:   e.upstream(id),
	}
	cfg := e.d.cfg

	last := base
	out, err := resilience.Retry(e.ctx, resilience.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BackoffFor: func(n int, err error) time.Duration {
			if kindOf(err) == KindInfrastructure {
				return cfg.Retry.Infrastructure.backoff().Delay(n)
			}
			return cfg.Retry.Step.backoff().Delay(n)
		},
		RetryIf: func(err error) bool {
			return e.ctx.Err() == nil && retryable(err)
		},
		OnRetry: func(n int, err error, delay time.Duration) {
			kind := kindOf(err)
			e.d.metrics.RecordRetry(e.write, kind)
			fields := logger.MergeWithError(logger.StepFields(e.runID, id, base+n), err)
			fields["kind"] = kind
			fields["backoff_ms"] = delay.Milliseconds()
			e.d.log.Warn("step attempt failed, retrying", fields)
		},
	}, func(n int) ([]byte, error) {
		number := base + n
		last = number
		if n > 1 {
			if err := e.record(id, run.StatusRunning, store.WithAttempt(number)); err != nil {
				return nil, &storeFailure{err}
			}
		}
		return e.attempt(req, number)
	})

	e.mu.Lock()
	e.attempts[id] = last
	e.mu.Unlock()

	var sf *storeFailure
	if stderrors.As(err, &sf) {
		e.setStoreErr(sf.err)
		return
	}
	if err == nil {
		if rerr := e.record(id, run.StatusSucceeded, store.WithOutput(out), store.WithAttempt(last)); rerr != nil {
			e.setStoreErr(rerr)
			return
		}
		e.mu.Lock()
		e.outputs[id] = out
		e.result.Executed = append(e.result.Executed, id)
		e.mu.Unlock()
		e.d.log.Debug("step succeeded", logger.StepFields(e.runID, id, last))
		return
	}

	cause := err
	canceled := e.ctx.Err() != nil
	if canceled {
		cause = errors.Canceled(e.runID).WithCause(err)
	} else if ae, ok := errors.AsAppError(err); !ok || ae.Code != errors.ErrCodeStepExecution {
		cause = errors.StepExecution(id, last, err)
	}
	if rerr := e.record(id, run.StatusFailed, store.WithError(cause), store.WithAttempt(last)); rerr != nil {
		e.setStoreErr(rerr)
		return
	}
	e.d.log.Error("step failed", logger.MergeWithError(logger.StepFields(e.runID, id, last), err))

	e.mu.Lock()
	e.result.Executed = append(e.result.Executed, id)
	e.result.Failures = append(e.result.Failures, &StepFailure{StepID: id, Attempts: last - base, Err: cause})
	e.interrupted = e.interrupted || canceled
	if !canceled && e.d.cfg.FailurePolicy == PolicyAbortRun {
		e.aborted = true
	}
	e.mu.Unlock()

	if !canceled {
		for _, down := range e.g.Downstream(id) {
			e.skip(down)
		}
	}
}

// attempt performs attempt number n of a step and records it.
func (e *execution) attempt(base *worker.StepRequest, n int) ([]byte, error) {
	req := *base
	req.Attempt = n

	ctx, span := observability.StartSpan(e.ctx, observability.SpanStep, trace.WithAttributes(
		attribute.String(observability.AttrRunID, req.RunID),
		attribute.String(observability.AttrStepID, req.StepID),
		attribute.String(observability.AttrFn, req.Fn),
		attribute.Int(observability.AttrAttempt, n),
		attribute.String(observability.AttrEnv, req.Env),
	))
	defer span.End()
	if timeout := e.d.cfg.StepTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := e.d.now()
	out, err := e.d.exec.Execute(ctx, &req)
	end := e.d.now()
	if err != nil && e.ctx.Err() == nil && stderrors.Is(err, context.DeadlineExceeded) {
		err = errors.StepExecution(req.StepID, n, errors.Timeout("step "+req.StepID).WithCause(err))
	}

	a := run.Attempt{Number: n, Status: run.StatusSucceeded, StartedAt: start, EndedAt: end}
	if err != nil {
		a.Status = run.StatusFailed
		a.Error = err.Error()
		observability.SetSpanError(ctx, err)
	}
	e.d.metrics.RecordStep(e.write, string(a.Status), req.Env, end.Sub(start))
	if rerr := e.recordAttempt(req.StepID, a); rerr != nil {
		return nil, &storeFailure{rerr}
	}
	return out, err
}

// kindOf classifies an attempt error by its outermost application code.
func kindOf(err error) string {
	if ae, ok := errors.AsAppError(err); ok && errors.IsInfrastructureCode(ae.Code) {
		return KindInfrastructure
	}
	return KindStep
}

// retryable rejects errors another attempt cannot fix.
func retryable(err error) bool {
	if !resilience.DefaultRetryIf(err) {
		return false
	}
	ae, ok := errors.AsAppError(err)
	if !ok {
		return true
	}
	switch ae.Code {
	case errors.ErrCodeNotFound, errors.ErrCodeInvalidInput, errors.ErrCodeInvalidConfig, errors.ErrCodeCanceled:
		return false
	}
	return true
}
