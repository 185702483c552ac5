package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process is a long-lived subprocess started with Start.
type Process struct {
	cmd   *exec.Cmd
	grace time.Duration
	done  chan struct{}
	err   error
	once  sync.Once
}

// Start launches cmd without waiting for it. The process is not tied to a
// context; call Stop to end it.
func Start(cmd Command) (*Process, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("process: binary is required")
	}
	c := exec.Command(cmd.Binary, cmd.Args...) //nolint:gosec // running configured worker commands is the point
	c.Dir = cmd.Dir
	c.Env = mergeEnv(cmd.Env)
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("process: start %s: %w", cmd.Binary, err)
	}
	p := &Process{cmd: c, grace: cmd.grace(), done: make(chan struct{})}
	go func() {
		p.err = c.Wait()
		close(p.done)
	}()
	return p, nil
}

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the wait error once the process has exited.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Stop sends SIGTERM to the process group and SIGKILL if it has not exited
// after the grace period or when ctx ends. It is safe to call more than once.
func (p *Process) Stop(ctx context.Context) error {
	p.once.Do(func() {
		if p.Exited() {
			return
		}
		pgid := -p.cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		}
		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		case <-ctx.Done():
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		}
	})
	<-p.done
	return nil
}
