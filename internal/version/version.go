// Package version exposes the printbot build identity. The linker sets these
// values; they appear in the startup log line and in GET /health.
package version

//nolint:revive // Set via -ldflags "-X" at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
