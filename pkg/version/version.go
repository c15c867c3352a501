package version

import (
	"fmt"
	"runtime"
)

// Build information, set by compiler flags at release time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// FullVersion returns the full version string including commit and build time.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// UserAgent returns a string suitable for use as an HTTP User-Agent header.
func UserAgent() string {
	return fmt.Sprintf("reviewdeck/%s", Version)
}
