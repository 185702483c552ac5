package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/runflow/errors"
	grpccfg "github.com/kbukum/runflow/grpc"
	"github.com/kbukum/runflow/graph"
	"github.com/kbukum/runflow/repository"
)

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are length limited, so avoid the long t.TempDir names.
	dir, err := os.MkdirTemp("", "rfw")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "w.sock")
}

func testWorkspace(t *testing.T) *repository.Workspace {
	t.Helper()
	gb := graph.NewBuilder()
	_ = gb.Add("a", "noop")
	_ = gb.Add("b", "noop", "a")
	g, err := gb.Build()
	if err != nil {
		t.Fatal(err)
	}
	rb := repository.NewBuilder("remote", "/srv/defs.yaml")
	if err := rb.AddJob("chain", "two steps", g); err != nil {
		t.Fatal(err)
	}
	r, _ := rb.Build()
	return repository.NewWorkspace(r)
}

func startServer(t *testing.T, reg *Registry) (*Server, *Conn) {
	t.Helper()
	cfg := grpccfg.Config{Address: grpccfg.Address{Socket: socketPath(t)}}
	srv := NewServer(cfg, reg, testWorkspace(t), nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	conn, err := Dial(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return srv, conn
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	if got := r.Names(); strings.Join(got, ",") != "exec,noop" {
		t.Errorf("names = %v", got)
	}
	if err := r.Register("noop", Noop); !errors.HasCode(err, errors.ErrCodeAlreadyExists) {
		t.Errorf("duplicate: expected ALREADY_EXISTS, got %v", err)
	}
	if _, err := r.Lookup("missing"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("lookup: expected NOT_FOUND, got %v", err)
	}
	if err := r.Register("late", Noop); !errors.HasCode(err, errors.ErrCodeConflict) {
		t.Errorf("register after use: expected CONFLICT, got %v", err)
	}
}

func TestExec(t *testing.T) {
	ctx := context.Background()
	out, err := Exec(ctx, Input{
		RunID:    "r1",
		StepID:   "s1",
		Attempt:  2,
		Args:     []string{"sh", "-c", `printf "%s:%s:" "$RUNFLOW_STEP_ID" "$RUNFLOW_ATTEMPT"; cat`},
		Upstream: map[string][]byte{"up": []byte(`{"n":1}`)},
	})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if string(out) != `s1:2:{"up":{"n":1}}` {
		t.Errorf("output = %q", out)
	}

	if _, err := Exec(ctx, Input{Args: []string{"sh", "-c", "echo nope >&2; exit 3"}}); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("non-zero exit: %v", err)
	}
	if _, err := Exec(ctx, Input{}); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("no args: expected INVALID_INPUT, got %v", err)
	}
}

func TestServer_ExecuteAndProbe(t *testing.T) {
	reg := DefaultRegistry()
	reg.MustRegister("echo", func(_ context.Context, in Input) ([]byte, error) {
		return json.Marshal(map[string]any{"args": in.Args, "upstream": len(in.Upstream)})
	})
	reg.MustRegister("fail", func(context.Context, Input) ([]byte, error) {
		return nil, errors.InvalidInput("x", "bad row")
	})
	_, conn := startServer(t, reg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.Probe(ctx); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	res, err := conn.Execute(ctx, &StepRequest{RunID: "r", StepID: "s", Fn: "echo", Attempt: 1,
		Args: []string{"x"}, Upstream: map[string][]byte{"a": []byte("1")}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Failed() || string(res.Output) != `{"args":["x"],"upstream":1}` {
		t.Errorf("result = %+v", res)
	}

	res, err = conn.Execute(ctx, &StepRequest{StepID: "s", Fn: "fail", Attempt: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Failed() || !errors.HasCode(res.Err(), errors.ErrCodeInvalidInput) {
		t.Errorf("failure result = %+v", res)
	}

	res, err = conn.Execute(ctx, &StepRequest{StepID: "s", Fn: "ghost", Attempt: 1})
	if err != nil || !errors.HasCode(res.Err(), errors.ErrCodeNotFound) {
		t.Errorf("unknown fn = %+v, %v", res, err)
	}
}

func TestServer_ListRepositories(t *testing.T) {
	srv, conn := startServer(t, DefaultRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := conn.ListRepositories(ctx, &ListRequest{Location: srv.Addr().String()})
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if len(resp.Repositories) != 1 || resp.Repositories[0].Name != "remote" {
		t.Fatalf("repositories = %+v", resp.Repositories)
	}
	if order := resp.Repositories[0].Jobs[0].Order; strings.Join(order, ",") != "a,b" {
		t.Errorf("order = %v", order)
	}

	_, err = conn.ListRepositories(ctx, &ListRequest{Repository: "ghost"})
	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestProbe_StoppedWorker(t *testing.T) {
	srv, conn := startServer(t, DefaultRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	probeCtx, probeCancel := context.WithTimeout(context.Background(), time.Second)
	defer probeCancel()
	err := conn.Probe(probeCtx)
	if !errors.HasCode(err, errors.ErrCodeWorkerUnavailable) || !errors.IsRetryable(err) {
		t.Fatalf("expected retryable WORKER_UNAVAILABLE, got %v", err)
	}
}

func TestDial_RejectsAmbiguousAddress(t *testing.T) {
	_, err := Dial(context.Background(), grpccfg.Config{Address: grpccfg.Address{Port: 5000, Socket: "/tmp/x.sock"}}, nil)
	if !errors.HasCode(err, errors.ErrCodeInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
}
