package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns a one-line version descriptor, e.g. "facerecon dev (unknown)".
func String() string {
	return fmt.Sprintf("facerecon %s (%s)", Version, GitSHA)
}
