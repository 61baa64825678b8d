// Package releases talks to a GitHub-compatible release host.
//
// The Client looks up the latest tagged release, downloads the update
// manifest attached to it and compares the published version with the
// installed one. It never changes local state. Every request is paced by a
// token-bucket limiter so that background checks cannot exhaust the host's
// API quota.
package releases
