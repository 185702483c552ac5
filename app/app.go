package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/runflow/component"
	"github.com/kbukum/runflow/dispatch"
	"github.com/kbukum/runflow/engine"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/observability"
	"github.com/kbukum/runflow/repository"
	"github.com/kbukum/runflow/server"
	"github.com/kbukum/runflow/store"
	"github.com/kbukum/runflow/supervisor"
	"github.com/kbukum/runflow/worker"
)

const defaultGracefulTimeout = 15 * time.Second

// App is an assembled runflow process.
type App struct {
	Name       string
	Version    string
	Cfg        *Config
	Logger     *logger.Logger
	Components *component.Registry
	Summary    *Summary

	Workspace *repository.Workspace
	Registry  *worker.Registry
	Metrics   *observability.Metrics

	// Set by New.
	Store      store.Store
	Supervisor *supervisor.Supervisor // nil in local dispatch mode
	Engine     *engine.Engine
	Server     *server.Server // nil when the HTTP API is disabled

	// Set by NewWorker.
	WorkerServer *worker.Server

	gracefulTimeout   time.Duration
	summaryOut        io.Writer
	shutdownTelemetry func(context.Context) error

	onStart []Hook
	onReady []Hook
	onStop  []Hook
}

// New builds the scheduler process: store, optional supervisor, dispatcher,
// engine and optional HTTP server, registered in that order.
func New(cfg *Config, opts ...Option) (*App, error) {
	a, err := newBase(cfg, opts)
	if err != nil {
		return nil, err
	}

	st := openStore(cfg.Store, a.Logger)
	a.Store = st
	if err := a.RegisterComponent(st); err != nil {
		return nil, err
	}

	exec, err := a.executor()
	if err != nil {
		return nil, err
	}
	d := dispatch.New(st, exec, cfg.Dispatch,
		dispatch.WithLogger(a.Logger),
		dispatch.WithMetrics(a.Metrics),
	)
	a.Engine = engine.New(a.Workspace, st, d, a.Logger)
	if err := a.RegisterComponent(a.Engine.Component()); err != nil {
		return nil, err
	}

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, a.Logger)
		srv.ApplyMiddleware(a.Metrics)
		srv.MountAPI(a.Name, a.Engine, a.Components.HealthAll)
		for _, r := range srv.GinEngine().Routes() {
			a.Summary.TrackRoute(r.Method, r.Path)
		}
		a.Server = srv
		if err := a.RegisterComponent(server.NewComponent(srv)); err != nil {
			return nil, err
		}
	}

	a.Logger.Debug("application assembled", logger.Fields(
		"store", cfg.Store.Driver,
		"dispatch", cfg.Dispatch.Mode,
		"server", cfg.Server.Enabled,
	))
	return a, nil
}

// NewWorker builds the worker process serving the step functions of the
// registry on cfg.Worker.
func NewWorker(cfg *Config, opts ...Option) (*App, error) {
	a, err := newBase(cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Worker.Validate(); err != nil {
		return nil, err
	}
	a.WorkerServer = worker.NewServer(cfg.Worker, a.Registry, a.Workspace, a.Logger)
	if err := a.RegisterComponent(a.WorkerServer); err != nil {
		return nil, err
	}
	return a, nil
}

// newBase applies defaults, validates cfg and prepares what every process
// shares: logger, registry, workspace, metrics and summary.
func newBase(cfg *Config, opts []Option) (*App, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	o := resolveOptions(opts)

	a := &App{
		Name:            cfg.Name,
		Version:         cfg.Version,
		Cfg:             cfg,
		gracefulTimeout: defaultGracefulTimeout,
		summaryOut:      o.summary,
	}
	if o.gracefulTimeout != nil {
		a.gracefulTimeout = *o.gracefulTimeout
	}
	if o.logger != nil {
		a.Logger = o.logger
	} else {
		a.Logger = logger.Init(cfg.Logging, cfg.Name)
	}
	a.Components = component.NewRegistry(a.Logger)
	a.Components.SetStopTimeout(a.gracefulTimeout)
	a.Summary = NewSummary(cfg.Name, cfg.Version)

	a.Registry = o.registry
	if a.Registry == nil {
		a.Registry = worker.DefaultRegistry()
	}

	a.Workspace = o.workspace
	if a.Workspace == nil {
		ws, err := repository.LoadWorkspace(cfg.Workspace.Paths...)
		if err != nil {
			return nil, err
		}
		a.Workspace = ws
	}
	jobs := 0
	for _, r := range a.Workspace.Repositories() {
		jobs += len(r.Jobs())
	}
	a.Summary.TrackWorkspace(a.Workspace.Len(), jobs)

	// Instruments bind to the global meter provider, which Init installs
	// during startup.
	m, err := observability.NewMetrics(observability.Meter("runflow"))
	if err != nil {
		return nil, err
	}
	a.Metrics = m
	return a, nil
}

// executor returns the step executor of the configured dispatch mode. In
// remote mode it also registers the worker supervisor.
func (a *App) executor() (dispatch.Executor, error) {
	cfg := a.Cfg
	if cfg.Dispatch.Mode != dispatch.ModeRemote {
		return dispatch.LocalExecutor{Registry: a.Registry}, nil
	}
	log := a.Logger.WithComponent("supervisor")
	launcher := supervisor.EnvLauncher{Process: &supervisor.ProcessLauncher{
		SocketDir:   cfg.Supervisor.SocketDir,
		SocketFlag:  cfg.Supervisor.SocketFlag,
		GracePeriod: cfg.Supervisor.GracePeriod,
		Stdout:      os.Stderr,
		Stderr:      os.Stderr,
		Log:         log,
	}}
	sup := supervisor.New(cfg.Supervisor, launcher,
		supervisor.GRPCDialer{Config: cfg.Supervisor.Client, Log: log},
		supervisor.WithLogger(a.Logger),
	)
	if err := a.RegisterComponent(sup); err != nil {
		return nil, err
	}
	a.Supervisor = sup
	envs := sup.Config()
	return dispatch.RemoteExecutor{
		Supervisor: sup,
		Env:        envs.Env,
		DefaultEnv: cfg.Dispatch.DefaultEnv,
	}, nil
}

// RegisterComponent adds a component to the application's registry.
func (a *App) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// ReadyCheck verifies that all registered components are healthy.
func (a *App) ReadyCheck(ctx context.Context) error {
	var unhealthy []string
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status == component.StatusHealthy {
			continue
		}
		detail := h.Name + "=" + string(h.Status)
		if h.Message != "" {
			detail += "(" + h.Message + ")"
		}
		unhealthy = append(unhealthy, detail)
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// Run starts the process and blocks until a shutdown signal or the end of
// ctx, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.startup(ctx); err != nil {
		return err
	}
	a.Logger.Info("Application ready, waiting for shutdown signal")
	a.WaitForSignal(ctx)
	return a.stop()
}

// RunTask starts the process, runs task and shuts down when it returns. A
// shutdown signal cancels the task's context.
func (a *App) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := a.startup(ctx); err != nil {
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			a.Logger.Info("Received signal, canceling task", logger.Fields("signal", sig.String()))
			cancel()
		case <-taskCtx.Done():
		}
	}()

	taskErr := task(taskCtx)
	if stopErr := a.stop(); stopErr != nil && taskErr == nil {
		return stopErr
	}
	return taskErr
}

func (a *App) startup(ctx context.Context) error {
	start := time.Now()
	a.Logger.Info("Starting application", logger.Fields("name", a.Name, "version", a.Version))

	shutdown, err := observability.Init(ctx, a.Cfg.Observability, a.Name, a.Version, a.Cfg.Environment, a.Logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown

	if err := a.Components.StartAll(ctx); err != nil {
		_ = shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("initialization failed: %w", err)
	}
	if err := runHooks(ctx, a.onStart); err != nil {
		return stderrors.Join(fmt.Errorf("onStart hook failed: %w", err), a.stop())
	}
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("Ready check reported issues", logger.Fields(logger.FieldError, err.Error()))
	}
	if err := runHooks(ctx, a.onReady); err != nil {
		return stderrors.Join(fmt.Errorf("onReady hook failed: %w", err), a.stop())
	}

	a.Summary.SetStartupDuration(time.Since(start))
	if a.summaryOut != nil {
		a.Summary.Display(ctx, a.summaryOut, a.Components)
	}
	return nil
}

// WaitForSignal blocks until SIGINT, SIGTERM or the end of ctx.
func (a *App) WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Logger.Info("Received shutdown signal", logger.Fields("signal", sig.String()))
		return sig
	case <-ctx.Done():
		a.Logger.Info("Context canceled, shutting down")
		return nil
	}
}

// Shutdown stops the process. Use it when driving the lifecycle by hand.
func (a *App) Shutdown(ctx context.Context) error {
	return a.stop()
}

func (a *App) stop() error {
	a.Logger.Info("Shutting down application", logger.Fields("timeout", a.gracefulTimeout.String()))
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var errs []error
	if err := runHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("OnStop hook error", logger.Fields(logger.FieldError, err.Error()))
		errs = append(errs, err)
	}
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("Shutdown completed with errors", logger.Fields(logger.FieldError, err.Error()))
		errs = append(errs, err)
	}
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, err)
		}
		a.shutdownTelemetry = nil
	}
	a.Logger.Info("Application shutdown complete")
	return stderrors.Join(errs...)
}
