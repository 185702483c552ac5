// Package supervisor owns the pool of remote worker processes.
//
// Workers are grouped by environment name. Acquire hands out an exclusively
// owned Handle for an environment, reusing an idle worker when one passes its
// liveness probe and launching a new one otherwise. Launches are bounded per
// environment; callers wait for a release when the bound is reached. Repeated
// launch failures trip a per-environment circuit breaker so later acquires
// fail fast instead of spawning doomed processes.
package supervisor
