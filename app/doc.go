// Package app assembles a runflow process from its configuration.
//
// New builds the logger, the run store, the worker supervisor, the
// dispatcher, the engine and the optional HTTP server, and registers each as
// a component. NewWorker builds the smaller process that serves step
// functions over gRPC.
//
//	cfg := &app.Config{}
//	if err := config.LoadConfig("runflow", cfg); err != nil {
//	    return err
//	}
//	a, err := app.New(cfg)
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
//
// Run blocks until SIGINT, SIGTERM or the end of ctx and then stops the
// components in reverse order. RunTask drives a finite piece of work, such
// as a single CLI run, with the same startup and shutdown sequence.
package app
