// Package version carries the build-time version string printed by the
// CLI banner. Values are set via -ldflags at build time; the zero values
// below are what a local `go build` without flags produces.
package version

import "fmt"

var (
	// Version is the tagged release version, or "dev" outside a tagged build.
	Version = "dev"
	// Commit is the short git commit hash baked in at build time.
	Commit = "unknown"
	// BuildDate is the RFC3339 build timestamp baked in at build time.
	BuildDate = "unknown"
)

// String renders the banner line the CLI prints for --version.
func String() string {
	return fmt.Sprintf("ixbrlload %s (commit %s, built %s)", Version, Commit, BuildDate)
}
