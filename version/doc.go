// Package version reports build information for the runflow binary.
//
// Version, Commit and BuildTime are set at link time:
//
//	go build -ldflags "-X github.com/kbukum/runflow/version.Version=1.2.0" ./cmd/runflow
//
// Unset values fall back to the module build info recorded by the Go
// toolchain.
package version
