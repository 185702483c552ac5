// Package server exposes workspace listings and run state over HTTP.
//
// The API is JSON only and served by Gin behind h2c:
//
//	GET  /healthz
//	GET  /version
//	GET  /api/v1/repositories?repository=&location=
//	GET  /api/v1/repositories/:repo/jobs/:job
//	POST /api/v1/repositories/:repo/jobs/:job/runs
//	GET  /api/v1/runs?status=&repository=&job=&since=&until=&limit=
//	GET  /api/v1/runs/:id
//	POST /api/v1/runs/:id/cancel
//
// POST routes require an HS256 bearer token when server.auth.jwt_secret is
// set. Errors are rendered as errors.ErrorResponse bodies. With server.tls
// configured the same handler is served over TLS instead of h2c.
package server
