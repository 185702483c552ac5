// Package resilience provides the fault-tolerance primitives runflow builds on:
//
//   - Retry: bounded retries with exponential backoff, optionally chosen per error
//   - Bulkhead: a concurrency limit that waits for a free slot
//   - CircuitBreaker: fails fast after repeated failures
//
// The dispatcher combines Bulkhead and Retry to run steps; the worker
// supervisor uses Retry to poll startup probes and a CircuitBreaker per
// environment to stop relaunching workers that keep crashing.
package resilience
