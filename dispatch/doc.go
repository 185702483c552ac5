// Package dispatch executes a planned run.
//
// The Dispatcher walks an ExecutionPlan batch by batch. Steps of one batch run
// concurrently up to the configured limit and the next batch starts only
// after every step of the current one is terminal. Each status change is
// written to the store before it is acted on, so a run can be resumed after a
// crash: steps already SUCCEEDED are not re-run and their outputs feed their
// dependents; steps left RUNNING are dispatched again with the next attempt
// number.
//
// A step that fails after its last attempt takes its transitive dependents
// down with it (SKIPPED). Independent branches keep going unless the failure
// policy is abort_run.
package dispatch
