// Package state implements persistence for the local InstallState.
//
// The FileRepository stores and loads the state as JSON on disk and exposes a
// Repository interface that the update manager and the swap orchestrator
// depend on. The host process and the orchestrator never run at the same time
// for one installation, so the in-process mutex is the only lock needed.
package state
