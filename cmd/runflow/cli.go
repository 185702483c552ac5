package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/kbukum/runflow/app"
	"github.com/kbukum/runflow/config"
	grpccfg "github.com/kbukum/runflow/grpc"
	"github.com/kbukum/runflow/repository"
	runpkg "github.com/kbukum/runflow/run"
	"github.com/kbukum/runflow/version"
	"github.com/kbukum/runflow/worker"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries a process exit code. A nil err prints nothing.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

// options holds every flag; each command registers the ones it reads.
type options struct {
	stdout io.Writer
	stderr io.Writer
	flags  *pflag.FlagSet

	configFile string
	workspaces []string
	verbose    bool

	grpcHost   string
	grpcPort   int
	grpcSocket string

	repository string
	location   string
	job        string
	statuses   []string
	limit      int

	host string
	port int
}

type command struct {
	name    string
	args    string
	summary string
	flags   func(fs *pflag.FlagSet, o *options)
	run     func(ctx context.Context, o *options) error
}

var commands = []command{
	{name: "list", summary: "List repositories and jobs", flags: listFlags, run: runList},
	{name: "run", args: "REPOSITORY JOB", summary: "Launch a job and wait for it", flags: storeFlags, run: runRun},
	{name: "resume", args: "RUN_ID", summary: "Continue an unfinished run", flags: storeFlags, run: runResume},
	{name: "runs", summary: "List stored runs", flags: runsFlags, run: runRuns},
	{name: "cancel", args: "RUN_ID", summary: "Cancel a run", flags: storeFlags, run: runCancel},
	{name: "worker", summary: "Serve step functions over gRPC", flags: workerFlags, run: runWorker},
	{name: "serve", summary: "Serve the HTTP API", flags: serveFlags, run: runServe},
	{name: "version", summary: "Print version information", run: runVersion},
}

func dispatchCommand(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout)
		return nil
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		o := &options{stdout: stdout, stderr: stderr}
		fs := pflag.NewFlagSet("runflow "+c.name, pflag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.Usage = func() {
			fmt.Fprintf(stderr, "Usage: runflow %s [flags] %s\n\n%s\n\nFlags:\n", c.name, c.args, c.summary)
			fs.PrintDefaults()
		}
		if c.flags != nil {
			c.flags(fs, o)
		}
		if err := fs.Parse(args[1:]); err != nil {
			if stderrors.Is(err, pflag.ErrHelp) {
				return nil
			}
			return &exitError{code: exitUsage}
		}
		o.flags = fs
		return c.run(ctx, o)
	}
	printUsage(stderr)
	return usageError("unknown command %q", args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: runflow COMMAND [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
}

func commonFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVar(&o.configFile, "config", "", "config file (default: config.yml in the standard locations)")
	fs.StringArrayVarP(&o.workspaces, "workspace", "w", nil, "job definitions file, repeatable; replaces workspace.paths")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log at the configured level instead of warn")
}

func grpcFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVar(&o.grpcHost, "grpc-host", "", "worker host")
	fs.IntVar(&o.grpcPort, "grpc-port", 0, "worker TCP port")
	fs.StringVar(&o.grpcSocket, "grpc-socket", "", "worker unix socket")
}

func storeFlags(fs *pflag.FlagSet, o *options) {
	commonFlags(fs, o)
}

func listFlags(fs *pflag.FlagSet, o *options) {
	commonFlags(fs, o)
	grpcFlags(fs, o)
	fs.StringVarP(&o.repository, "repository", "r", "", "only this repository")
	fs.StringVar(&o.location, "location", "", "only repositories loaded from this location")
}

func runsFlags(fs *pflag.FlagSet, o *options) {
	commonFlags(fs, o)
	fs.StringVarP(&o.repository, "repository", "r", "", "only runs of this repository")
	fs.StringVarP(&o.job, "job", "j", "", "only runs of this job")
	fs.StringArrayVarP(&o.statuses, "status", "s", nil, "only runs with this status, repeatable")
	fs.IntVarP(&o.limit, "limit", "n", 20, "maximum number of runs")
}

func workerFlags(fs *pflag.FlagSet, o *options) {
	commonFlags(fs, o)
	grpcFlags(fs, o)
}

func serveFlags(fs *pflag.FlagSet, o *options) {
	commonFlags(fs, o)
	fs.StringVar(&o.host, "host", "", "HTTP listen host (default: server.host)")
	fs.IntVar(&o.port, "port", 0, "HTTP listen port (default: server.port)")
}

// grpcAddress returns the worker address given on the command line, if any.
func (o *options) grpcAddress() (grpccfg.Address, bool, error) {
	addr := grpccfg.Address{Host: o.grpcHost, Port: o.grpcPort, Socket: o.grpcSocket}
	switch {
	case addr.Port != 0 && addr.Socket != "":
		return addr, false, usageError("--grpc-port and --grpc-socket are mutually exclusive")
	case addr.IsZero() && addr.Host != "":
		return addr, false, usageError("--grpc-host needs --grpc-port")
	case addr.IsZero():
		return addr, false, nil
	}
	if err := addr.Validate(); err != nil {
		return addr, false, &exitError{code: exitUsage, err: err}
	}
	return addr, true, nil
}

// loadConfig reads the config file and environment, then applies the
// command line overrides. Short-lived commands log at warn unless -v.
func (o *options) loadConfig(shortLived bool) (*app.Config, error) {
	cfg := &app.Config{}
	var opts []config.LoaderOption
	if o.configFile != "" {
		opts = append(opts, config.WithConfigFile(o.configFile))
	}
	if err := config.LoadConfig("runflow", cfg, opts...); err != nil {
		return nil, &exitError{code: exitUsage, err: err}
	}
	if len(o.workspaces) > 0 {
		cfg.Workspace.Paths = o.workspaces
	}
	if shortLived && !o.verbose && cfg.Logging.Level == "" {
		cfg.Logging.Level = "warn"
	}
	return cfg, nil
}

func (o *options) positional(names ...string) ([]string, error) {
	args := o.flags.Args()
	if len(args) != len(names) {
		return nil, usageError("%s expects %s", o.flags.Name(), strings.Join(names, " "))
	}
	return args, nil
}

func runList(ctx context.Context, o *options) error {
	addr, remote, err := o.grpcAddress()
	if err != nil {
		return err
	}
	sel := repository.Selector{Repository: o.repository, Location: o.location}

	var listing []repository.Listing
	if remote {
		conn, err := worker.Dial(ctx, grpccfg.Config{Address: addr}, nil)
		if err != nil {
			return err
		}
		defer conn.Close()
		resp, err := conn.ListRepositories(ctx, &worker.ListRequest{Repository: sel.Repository, Location: sel.Location})
		if err != nil {
			return err
		}
		listing = resp.Repositories
	} else {
		cfg, err := o.loadConfig(true)
		if err != nil {
			return err
		}
		if len(cfg.Workspace.Paths) == 0 {
			return usageError("no job definitions: pass -w FILE, --grpc-port or --grpc-socket")
		}
		ws, err := repository.LoadWorkspace(cfg.Workspace.Paths...)
		if err != nil {
			return err
		}
		if listing, err = ws.List(sel); err != nil {
			return err
		}
	}
	printListing(o.stdout, listing)
	return nil
}

// withApp builds the scheduler from the config and runs task inside its
// lifecycle.
func (o *options) withApp(ctx context.Context, task func(ctx context.Context, a *app.App) error) error {
	cfg, err := o.loadConfig(true)
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	return a.RunTask(ctx, func(ctx context.Context) error { return task(ctx, a) })
}

func runRun(ctx context.Context, o *options) error {
	args, err := o.positional("REPOSITORY", "JOB")
	if err != nil {
		return err
	}
	return o.withApp(ctx, func(ctx context.Context, a *app.App) error {
		res, err := a.Engine.Launch(ctx, args[0], args[1])
		if res != nil && res.Run != nil {
			printRun(o.stdout, res.Run)
		}
		if err != nil {
			return err
		}
		return outcome(res.Run)
	})
}

func runResume(ctx context.Context, o *options) error {
	args, err := o.positional("RUN_ID")
	if err != nil {
		return err
	}
	return o.withApp(ctx, func(ctx context.Context, a *app.App) error {
		res, err := a.Engine.Resume(ctx, args[0])
		if res != nil && res.Run != nil {
			printRun(o.stdout, res.Run)
		}
		if err != nil {
			return err
		}
		return outcome(res.Run)
	})
}

// outcome turns an unsuccessful run into exit status 1.
func outcome(r *runpkg.Run) error {
	if r.Status == runpkg.StatusSucceeded {
		return nil
	}
	return &exitError{code: exitFailure, err: fmt.Errorf("run %s finished %s", r.ID, r.Status)}
}

func runRuns(ctx context.Context, o *options) error {
	if o.limit < 1 {
		return usageError("--limit must be positive")
	}
	f := runpkg.Filter{Repository: o.repository, JobName: o.job, Limit: o.limit}
	for _, raw := range o.statuses {
		st, ok := runpkg.ParseStatus(raw)
		if !ok {
			return usageError("unknown status %q", raw)
		}
		f.Statuses = append(f.Statuses, st)
	}
	return o.withApp(ctx, func(ctx context.Context, a *app.App) error {
		runs, err := a.Engine.ListRuns(ctx, f)
		if err != nil {
			return err
		}
		printRuns(o.stdout, runs)
		return nil
	})
}

func runCancel(ctx context.Context, o *options) error {
	args, err := o.positional("RUN_ID")
	if err != nil {
		return err
	}
	return o.withApp(ctx, func(ctx context.Context, a *app.App) error {
		if err := a.Engine.Cancel(ctx, args[0]); err != nil {
			return err
		}
		r, err := a.Engine.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		printRun(o.stdout, r)
		return nil
	})
}

func runWorker(ctx context.Context, o *options) error {
	addr, set, err := o.grpcAddress()
	if err != nil {
		return err
	}
	cfg, err := o.loadConfig(false)
	if err != nil {
		return err
	}
	if set {
		cfg.Worker.Address = addr
	}
	a, err := app.NewWorker(cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func runServe(ctx context.Context, o *options) error {
	cfg, err := o.loadConfig(false)
	if err != nil {
		return err
	}
	cfg.Server.Enabled = true
	if o.host != "" {
		cfg.Server.Host = o.host
	}
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
	a, err := app.New(cfg, app.WithSummary(o.stderr))
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func runVersion(ctx context.Context, o *options) error {
	fmt.Fprintln(o.stdout, version.Get().String())
	return nil
}
