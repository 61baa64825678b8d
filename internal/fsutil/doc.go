// Package fsutil provides the directory mirror used by the swap orchestrator.
//
// Sync makes a destination tree an exact copy of a source tree: entries
// missing from the source are deleted, every file is rewritten through
// go-update with a SHA-256 checksum, and modification times are preserved.
// Each file operation is retried a few times to ride out transient locks held
// by antivirus scanners or indexers.
package fsutil
