// Package version holds build metadata for the faepi binaries.
package version

import "fmt"

// Stamped in at link time with -ldflags "-X"; the defaults identify a
// local development build.
var (
	Version   = "0.1.0"
	Commit    = "dev"
	BuildDate = "unknown"
)

// Full renders the version together with the commit and build date.
func Full() string {
	return fmt.Sprintf("%s (commit:%s, built:%s)", Version, Commit, BuildDate)
}
