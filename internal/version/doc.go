// Package version exposes build metadata for the updater binaries.
//
// Version, Commit and BuildTime are injected at build time via ldflags; the
// Version assignment is also rewritten in place by the release resolver.
package version
