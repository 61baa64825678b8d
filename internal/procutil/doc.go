// Package procutil covers the process side of an update: checking whether a
// PID is still alive, waiting for it to exit, starting detached processes
// and a PID lock file that detects stale owners.
package procutil
