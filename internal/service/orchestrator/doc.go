// Package orchestrator swaps a staged release into the install directory.
//
// It runs as its own process after the application has exited, because a
// running binary cannot safely replace its own files. The swap is a small
// state machine:
//
//	Idle -> BackingUp -> Installing -> RestoringConfig -> Relaunching -> Done
//	                       |
//	                       +-> RollingBack -> RelaunchingOld -> Failed
//
// Once BackingUp starts the run is no longer cancellable, and every path ends
// with the install directory either untouched, fully swapped or fully
// restored from the backup.
package orchestrator
