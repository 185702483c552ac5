// Package worker implements the remote step execution protocol.
//
// A worker process serves the runflow.worker.v1.Worker gRPC service plus the
// standard grpc.health.v1 service, which clients use as a liveness probe.
// Messages are plain Go structs carried by a JSON codec registered under the
// "json" content subtype, so no generated code is involved.
//
// Functions are looked up by name in an explicit Registry. The built-ins
// "noop" and "exec" are available from DefaultRegistry.
package worker
