// Package version carries build metadata set through -ldflags, e.g.
//
//	-X github.com/zeus2/zeus2be/internal/version.Version=v1.2.0
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)

// String describes the build in one line for startup logs and -version.
func String() string {
	return fmt.Sprintf("zeus2be %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
