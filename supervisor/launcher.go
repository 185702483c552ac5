package supervisor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kbukum/runflow/errors"
	grpccfg "github.com/kbukum/runflow/grpc"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/process"
	"github.com/kbukum/runflow/worker"
)

// Instance is a launched worker.
type Instance interface {
	Address() grpccfg.Address
	// Exited reports whether the worker is known to be gone.
	Exited() bool
	Stop(ctx context.Context) error
}

// Launcher brings up a worker for an environment. id is unique per launch.
type Launcher interface {
	Launch(ctx context.Context, spec EnvSpec, id string) (Instance, error)
}

// Client talks to a running worker. *worker.Conn implements it.
type Client interface {
	Probe(ctx context.Context) error
	Execute(ctx context.Context, req *worker.StepRequest) (*worker.StepResult, error)
	Close() error
}

// Dialer opens a Client to a worker address.
type Dialer interface {
	Dial(ctx context.Context, addr grpccfg.Address) (Client, error)
}

// GRPCDialer dials workers over gRPC.
type GRPCDialer struct {
	Config grpccfg.Config
	Log    *logger.Logger
}

func (d GRPCDialer) Dial(ctx context.Context, addr grpccfg.Address) (Client, error) {
	cfg := d.Config
	cfg.Address = addr
	return worker.Dial(ctx, cfg, d.Log)
}

// ProcessLauncher runs the environment's command as a subprocess listening
// on a fresh unix socket under SocketDir.
type ProcessLauncher struct {
	SocketDir   string
	SocketFlag  string
	GracePeriod time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
	Log         *logger.Logger
}

func (l *ProcessLauncher) Launch(ctx context.Context, spec EnvSpec, id string) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(spec.Command) == 0 {
		return nil, errors.InvalidConfig("supervisor.envs."+spec.Name, "command is required")
	}
	if err := os.MkdirAll(l.SocketDir, 0o700); err != nil {
		return nil, err
	}
	sock := filepath.Join(l.SocketDir, "runflow-"+shortID(id)+".sock")
	args := append(append([]string(nil), spec.Command[1:]...), l.SocketFlag, sock)

	stdout, stderr := l.Stdout, l.Stderr
	if stdout == nil {
		stdout = os.Stderr
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	p, err := process.Start(process.Command{
		Binary:      spec.Command[0],
		Args:        args,
		Dir:         spec.Dir,
		Env:         spec.Env,
		Stdout:      stdout,
		Stderr:      stderr,
		GracePeriod: l.GracePeriod,
	})
	if err != nil {
		return nil, err
	}
	if l.Log != nil {
		l.Log.Debug("worker process started", map[string]interface{}{
			logger.FieldEnv:      spec.Name,
			logger.FieldWorkerID: id,
			logger.FieldAddress:  sock,
			"pid":                p.Pid(),
		})
	}
	return &processInstance{proc: p, addr: grpccfg.Address{Socket: sock}}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type processInstance struct {
	proc *process.Process
	addr grpccfg.Address
}

func (p *processInstance) Address() grpccfg.Address { return p.addr }
func (p *processInstance) Exited() bool             { return p.proc.Exited() }

func (p *processInstance) Stop(ctx context.Context) error {
	err := p.proc.Stop(ctx)
	_ = os.Remove(p.addr.Socket)
	return err
}

// StaticLauncher hands out the environment's configured address. Stopping
// the instance leaves the remote worker running.
type StaticLauncher struct{}

func (StaticLauncher) Launch(ctx context.Context, spec EnvSpec, _ string) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := spec.Address.Validate(); err != nil {
		return nil, err
	}
	return staticInstance{addr: spec.Address}, nil
}

type staticInstance struct{ addr grpccfg.Address }

func (s staticInstance) Address() grpccfg.Address { return s.addr }
func (staticInstance) Exited() bool                { return false }
func (staticInstance) Stop(context.Context) error  { return nil }

// EnvLauncher picks ProcessLauncher or StaticLauncher per environment.
type EnvLauncher struct {
	Process *ProcessLauncher
}

func (l EnvLauncher) Launch(ctx context.Context, spec EnvSpec, id string) (Instance, error) {
	if !spec.Address.IsZero() {
		return StaticLauncher{}.Launch(ctx, spec, id)
	}
	return l.Process.Launch(ctx, spec, id)
}
