// Package component defines lifecycle-managed infrastructure: the run
// store, the worker supervisor, the HTTP server and the telemetry
// exporters all implement Component and are started and stopped by a
// Registry in dependency order.
package component
