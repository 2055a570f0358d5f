// Package version provides version information for the chunkwise engine.
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables set by ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// String returns a one-line version description.
func String() string {
	return fmt.Sprintf("chunkwise %s (%s, %s)", Version, GitCommit, GoVersion)
}
