package app

import (
	"io"
	"time"

	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/repository"
	"github.com/kbukum/runflow/worker"
)

// Option configures the App during creation.
type Option func(*appOptions)

type appOptions struct {
	logger          *logger.Logger
	gracefulTimeout *time.Duration
	registry        *worker.Registry
	workspace       *repository.Workspace
	summary         io.Writer
}

func resolveOptions(opts []Option) *appOptions {
	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets a custom logger instead of one built from the config's
// logging section.
func WithLogger(l *logger.Logger) Option {
	return func(o *appOptions) { o.logger = l }
}

// WithGracefulTimeout sets the maximum duration for graceful shutdown.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *appOptions) { o.gracefulTimeout = &d }
}

// WithRegistry sets the step functions used by local dispatch and by
// NewWorker. The default is worker.DefaultRegistry.
func WithRegistry(r *worker.Registry) Option {
	return func(o *appOptions) { o.registry = r }
}

// WithWorkspace uses ws instead of loading Config.Workspace.Paths.
func WithWorkspace(ws *repository.Workspace) Option {
	return func(o *appOptions) { o.workspace = ws }
}

// WithSummary prints the startup summary of Run to w.
func WithSummary(w io.Writer) Option {
	return func(o *appOptions) { o.summary = w }
}
