package version

import "fmt"

var (
	// Version is the release version of the build. release-tool compute rewrites
	// this assignment and ldflags may override it.
	Version = "1.0.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the release version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s", Version, Commit, BuildTime)
}

// UserAgent returns the User-Agent sent to the release host.
func UserAgent(app string) string {
	return fmt.Sprintf("%s-updater/%s", app, Version)
}
