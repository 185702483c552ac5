package supervisor

import (
	"context"
	stderrors "errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/runflow/component"
	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/resilience"
)

// pool holds the workers of one environment. changed is closed and replaced
// whenever capacity may have become available.
type pool struct {
	idle    []*member
	members map[string]*member
	changed chan struct{}
	breaker *resilience.CircuitBreaker
}

func (p *pool) signal() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Supervisor launches, pools and terminates workers.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	dialer   Dialer
	log      *logger.Logger

	mu     sync.Mutex
	pools  map[string]*pool
	closed bool
}

var _ component.Component = (*Supervisor)(nil)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Supervisor) { s.log = log.WithComponent("supervisor") }
}

// New creates a supervisor.
func New(cfg Config, launcher Launcher, dialer Dialer, opts ...Option) *Supervisor {
	cfg.ApplyDefaults()
	s := &Supervisor{
		cfg:      cfg,
		launcher: launcher,
		dialer:   dialer,
		log:      logger.Nop(),
		pools:    make(map[string]*pool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config { return s.cfg }

func (s *Supervisor) poolFor(env string) *pool {
	p, ok := s.pools[env]
	if !ok {
		p = &pool{
			members: make(map[string]*member),
			changed: make(chan struct{}),
			breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:        "worker-launch-" + env,
				MaxFailures: s.cfg.Breaker.MaxFailures,
				Timeout:     s.cfg.Breaker.Cooldown,
				OnStateChange: func(name string, from, to resilience.State) {
					s.log.Warn("launch circuit changed state", map[string]interface{}{
						logger.FieldEnv: env, "from": from.String(), "to": to.String(),
					})
				},
			}),
		}
		s.pools[env] = p
	}
	return p
}

// Acquire returns an exclusively owned handle for spec's environment.
func (s *Supervisor) Acquire(ctx context.Context, spec EnvSpec) (*Handle, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, errors.ServiceUnavailable("worker supervisor")
		}
		p := s.poolFor(spec.Name)

		if n := len(p.idle); n > 0 {
			m := p.idle[n-1]
			p.idle = p.idle[:n-1]
			s.mu.Unlock()
			if err := s.probe(ctx, m); err != nil {
				if ctx.Err() != nil {
					s.Release(s.lease(m))
					return nil, ctx.Err()
				}
				m.setState(StateTerminated)
				s.discard(m)
				continue
			}
			return s.lease(m), nil
		}

		if len(p.members) < s.cfg.MaxWorkersPerEnv {
			id := uuid.NewString()
			m := &member{id: id, env: spec.Name, state: StateStarting}
			p.members[id] = m
			s.mu.Unlock()
			if err := s.start(ctx, p, spec, m); err != nil {
				s.discard(m)
				return nil, err
			}
			return s.lease(m), nil
		}

		wait := p.changed
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (s *Supervisor) lease(m *member) *Handle {
	return &Handle{ID: m.id, Env: m.env, Address: m.inst.Address(), m: m, sup: s}
}

// start launches a worker and polls its probe until it answers or the
// startup timeout passes.
func (s *Supervisor) start(ctx context.Context, p *pool, spec EnvSpec, m *member) error {
	if err := p.breaker.Allow(); err != nil {
		return errors.WorkerStartup(spec.Name, err)
	}
	fields := map[string]interface{}{logger.FieldEnv: spec.Name, logger.FieldWorkerID: m.id}
	started := time.Now()

	err := s.launch(ctx, spec, m)
	if ctx.Err() != nil {
		p.breaker.Abandon()
		return ctx.Err()
	}
	p.breaker.Record(err)
	if err != nil {
		s.log.Error("worker failed to start", logger.MergeWithError(fields, err))
		return errors.WorkerStartup(spec.Name, err)
	}
	m.setState(StateReady)
	fields[logger.FieldAddress] = m.inst.Address().String()
	s.log.Info("worker ready", logger.MergeWithDuration(fields, time.Since(started)))
	return nil
}

func (s *Supervisor) launch(ctx context.Context, spec EnvSpec, m *member) error {
	inst, err := s.launcher.Launch(ctx, spec, m.id)
	if err != nil {
		return err
	}
	m.inst = inst
	client, err := s.dialer.Dial(ctx, inst.Address())
	if err != nil {
		return err
	}
	m.client = client

	startCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()
	return resilience.RetryFunc(startCtx, resilience.RetryConfig{
		MaxAttempts: int(s.cfg.StartupTimeout/s.cfg.ProbeInterval) + 1,
		Backoff:     resilience.Backoff{Initial: s.cfg.ProbeInterval, Max: s.cfg.ProbeInterval, Factor: 1},
		RetryIf: func(error) bool {
			return startCtx.Err() == nil && !inst.Exited()
		},
	}, func(int) error {
		return s.probe(startCtx, m)
	})
}

func (s *Supervisor) probe(ctx context.Context, m *member) error {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	return m.client.Probe(pctx)
}

// Release returns the handle's worker to its pool, or tears it down when it
// was terminated. Releasing the same handle twice is a no-op.
func (s *Supervisor) Release(h *Handle) {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.m.getState() == StateTerminated {
		s.discard(h.m)
		return
	}

	s.mu.Lock()
	p := s.pools[h.m.env]
	if s.closed || p == nil || p.members[h.m.id] == nil {
		s.mu.Unlock()
		s.teardown(h.m)
		return
	}
	p.idle = append(p.idle, h.m)
	p.signal()
	s.mu.Unlock()
}

// discard removes m from its pool and stops it.
func (s *Supervisor) discard(m *member) {
	s.mu.Lock()
	if p := s.pools[m.env]; p != nil {
		delete(p.members, m.id)
		p.signal()
	}
	s.mu.Unlock()
	s.teardown(m)
}

func (s *Supervisor) teardown(m *member) {
	m.setState(StateTerminated)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracePeriod+time.Second)
	defer cancel()
	_ = s.stopMember(ctx, m)
}

func (s *Supervisor) stopMember(ctx context.Context, m *member) error {
	var errs []error
	if m.client != nil {
		errs = append(errs, m.client.Close())
	}
	if m.inst != nil {
		errs = append(errs, m.inst.Stop(ctx))
	}
	return stderrors.Join(errs...)
}

// Stats reports live and idle workers per environment.
type Stats struct {
	Env   string `json:"env"`
	Live  int    `json:"live"`
	Idle  int    `json:"idle"`
	State string `json:"breaker"`
}

// Stats returns pool statistics sorted by environment.
func (s *Supervisor) Stats() []Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stats, 0, len(s.pools))
	for env, p := range s.pools {
		out = append(out, Stats{Env: env, Live: len(p.members), Idle: len(p.idle), State: p.breaker.State().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Env < out[j].Env })
	return out
}

func (s *Supervisor) Name() string { return "supervisor" }

// Start prepares the socket directory.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	return os.MkdirAll(s.cfg.SocketDir, 0o700)
}

// Stop terminates every worker.
func (s *Supervisor) Stop(ctx context.Context) error { return s.Close(ctx) }

// Close terminates every worker, idle or leased. Later acquires fail.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var members []*member
	for _, p := range s.pools {
		for _, m := range p.members {
			members = append(members, m)
		}
		p.members = make(map[string]*member)
		p.idle = nil
		p.signal()
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(members))
	for i, m := range members {
		m.setState(StateTerminated)
		wg.Add(1)
		go func(i int, m *member) {
			defer wg.Done()
			errs[i] = s.stopMember(ctx, m)
		}(i, m)
	}
	wg.Wait()
	if len(members) > 0 {
		s.log.Info("workers terminated", map[string]interface{}{"count": len(members)})
	}
	return stderrors.Join(errs...)
}

func (s *Supervisor) Health(ctx context.Context) component.Health {
	h := component.Health{Name: s.Name(), Status: component.StatusHealthy}
	for _, st := range s.Stats() {
		if st.State != resilience.StateClosed.String() {
			h.Status = component.StatusDegraded
			h.Message = "launches failing for env " + st.Env
		}
	}
	s.mu.Lock()
	if s.closed {
		h.Status, h.Message = component.StatusUnhealthy, "closed"
	}
	s.mu.Unlock()
	return h
}

// Describe summarizes the supervisor for the startup banner.
func (s *Supervisor) Describe() component.Description {
	names := make([]string, 0, len(s.cfg.Envs))
	for _, e := range s.cfg.Envs {
		names = append(names, e.Name)
	}
	return component.Description{Type: "supervisor", Details: "envs " + strings.Join(names, ", ")}
}

