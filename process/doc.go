// Package process runs subprocesses in their own process group.
//
// Run executes a short-lived command and captures its output; the exec
// step function is built on it. Start launches a long-lived process, such
// as a worker serving gRPC on a unix socket, that is later shut down with
// Stop: SIGTERM to the whole group, then SIGKILL after the grace period.
package process
