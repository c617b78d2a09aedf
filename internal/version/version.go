package version

import "fmt"

// Version information set at build time via ldflags:
// go build -ldflags "-X github.com/dustin/qpaper/internal/version.Version=1.0.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String formats the build information for logs and the health endpoint.
func String() string {
	return fmt.Sprintf("qpaper %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
