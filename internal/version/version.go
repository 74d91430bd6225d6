package version

import "fmt"

var (
	// Version is the release version, set with -ldflags at build time.
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the build metadata on one line, as printed by -version.
func String() string {
	return fmt.Sprintf("windcluster %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
