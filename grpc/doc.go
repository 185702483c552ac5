// Package grpc holds the addressing, client configuration and error mapping
// shared by the worker server and its clients.
//
// A worker is reached either on host+port or on a unix socket; Address
// enforces that exactly one is configured. The client subpackage builds
// connections with keepalive and the interceptor subpackage supplies
// logging, timeout and recovery interceptors.
package grpc
