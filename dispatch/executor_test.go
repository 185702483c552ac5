package dispatch

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/runflow/errors"
	grpccfg "github.com/kbukum/runflow/grpc"
	"github.com/kbukum/runflow/run"
	"github.com/kbukum/runflow/store"
	"github.com/kbukum/runflow/supervisor"
	"github.com/kbukum/runflow/worker"
)

type stubInstance struct{ addr grpccfg.Address }

func (i stubInstance) Address() grpccfg.Address   { return i.addr }
func (i stubInstance) Exited() bool               { return false }
func (i stubInstance) Stop(context.Context) error { return nil }

type countingLauncher struct{ launches atomic.Int32 }

func (l *countingLauncher) Launch(_ context.Context, _ supervisor.EnvSpec, id string) (supervisor.Instance, error) {
	l.launches.Add(1)
	return stubInstance{addr: grpccfg.Address{Socket: "/stub/" + id}}, nil
}

// flakyClient answers its first probe, so the worker starts, and fails
// every probe after that.
type flakyClient struct {
	probes  atomic.Int32
	execs   atomic.Int32
	healthy bool
}

func (c *flakyClient) Probe(ctx context.Context) error {
	if c.probes.Add(1) > 1 && !c.healthy {
		return stderrors.New("connection refused")
	}
	return nil
}

func (c *flakyClient) Execute(_ context.Context, req *worker.StepRequest) (*worker.StepResult, error) {
	c.execs.Add(1)
	return &worker.StepResult{Output: []byte(req.StepID)}, nil
}

func (c *flakyClient) Close() error { return nil }

type stubDialer struct {
	mu      sync.Mutex
	healthy bool
	clients []*flakyClient
}

func (d *stubDialer) Dial(context.Context, grpccfg.Address) (supervisor.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &flakyClient{healthy: d.healthy}
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *stubDialer) executions() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int32
	for _, c := range d.clients {
		n += c.execs.Load()
	}
	return n
}

func remoteExecutor(t *testing.T, launcher supervisor.Launcher, dialer supervisor.Dialer) RemoteExecutor {
	t.Helper()
	sup := supervisor.New(supervisor.Config{
		MaxWorkersPerEnv: 1,
		StartupTimeout:   time.Second,
		ProbeInterval:    time.Millisecond,
		ProbeTimeout:     100 * time.Millisecond,
		GracePeriod:      time.Millisecond,
	}, launcher, dialer)
	t.Cleanup(func() { _ = sup.Close(context.Background()) })

	envs := map[string]supervisor.EnvSpec{"default": {Name: "default", Command: []string{"runflow", "worker"}}}
	return RemoteExecutor{
		Supervisor: sup,
		DefaultEnv: "default",
		Env: func(name string) (supervisor.EnvSpec, error) {
			spec, ok := envs[name]
			if !ok {
				return supervisor.EnvSpec{}, errors.NotFound("environment", name)
			}
			return spec, nil
		},
	}
}

func TestRemoteExecutor_Succeeds(t *testing.T) {
	st := store.NewMemoryStore()
	id, g, p := setup(t, st, "a", "b:a")

	launcher := &countingLauncher{}
	dialer := &stubDialer{healthy: true}
	res, err := New(st, remoteExecutor(t, launcher, dialer), fastConfig()).Execute(context.Background(), id, g, p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status() != run.StatusSucceeded {
		t.Fatalf("status = %s, failures = %v", res.Status(), res.Failures)
	}
	if n := launcher.launches.Load(); n != 1 {
		t.Errorf("launches = %d, want the worker reused", n)
	}
	if n := dialer.executions(); n != 2 {
		t.Errorf("executions = %d", n)
	}
}

func TestRemoteExecutor_WorkerLostRetriesThenFails(t *testing.T) {
	st := store.NewMemoryStore()
	id, g, p := setup(t, st, "a", "b:a")

	launcher := &countingLauncher{}
	dialer := &stubDialer{}
	res, err := New(st, remoteExecutor(t, launcher, dialer), fastConfig()).Execute(context.Background(), id, g, p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	a, _ := res.Outcome("a")
	if a.Status != run.StatusFailed || a.Attempt != 3 {
		t.Errorf("a = %s after attempt %d", a.Status, a.Attempt)
	}
	if got := statusOf(t, res, "b"); got != run.StatusSkipped {
		t.Errorf("b = %s", got)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures = %v", res.Failures)
	}
	ferr := res.Failures[0].Err
	if !errors.HasCode(ferr, errors.ErrCodeStepExecution) || !errors.HasCode(ferr, errors.ErrCodeWorkerUnavailable) {
		t.Errorf("failure = %v", ferr)
	}
	if n := launcher.launches.Load(); n < 3 {
		t.Errorf("launches = %d, want a fresh worker per attempt", n)
	}
	if n := dialer.executions(); n != 0 {
		t.Errorf("a dead worker received %d executions", n)
	}
}

func TestRemoteExecutor_UnknownEnv(t *testing.T) {
	exec := remoteExecutor(t, &countingLauncher{}, &stubDialer{healthy: true})
	_, err := exec.Execute(context.Background(), &worker.StepRequest{StepID: "a", Fn: "noop", Env: "gpu"})
	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("err = %v", err)
	}
}
