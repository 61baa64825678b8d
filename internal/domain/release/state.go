package release

import (
	"time"

	"github.com/google/uuid"
)

// Outcome names the terminal state an update attempt reached.
type Outcome string

// Orchestrator outcomes recorded in InstallState.LastResult.
const (
	OutcomeUpdated        Outcome = "updated"
	OutcomeBackupFailed   Outcome = "backup_failed"
	OutcomeRolledBack     Outcome = "rolled_back"
	OutcomeRollbackFailed Outcome = "rollback_failed"
)

// InstallState is the persisted record of what this machine runs.
type InstallState struct {
	// CurrentVersion is the version installed in InstallDir.
	CurrentVersion Version `json:"current_version"`
	// InstallDir is the directory the application runs from.
	InstallDir string `json:"install_dir"`
	// PendingUpdate is set between handoff and the orchestrator's terminal state.
	PendingUpdate *PendingUpdate `json:"pending_update,omitempty"`
	// LastCheckTimestamp is when the release host was last asked for updates.
	LastCheckTimestamp time.Time `json:"last_check_timestamp"`
	// LastResult is the outcome of the most recent orchestrator run.
	LastResult *Result `json:"last_result,omitempty"`
}

// PendingUpdate describes an update that was handed off to the orchestrator.
type PendingUpdate struct {
	AttemptID   uuid.UUID `json:"attempt_id"`
	Version     Version   `json:"version"`
	StagingDir  string    `json:"staging_dir"`
	BackupDir   string    `json:"backup_dir"`
	RequestedAt time.Time `json:"requested_at"`
}

// Result is what the orchestrator reports after reaching a terminal state.
type Result struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	Outcome    Outcome   `json:"outcome"`
	ExitCode   int       `json:"exit_code"`
	Version    Version   `json:"version"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	// ConfigReset warns that preserved settings could not be restored.
	ConfigReset bool `json:"config_reset,omitempty"`
}

// Clone returns a deep copy of the state.
func (s *InstallState) Clone() *InstallState {
	if s == nil {
		return nil
	}

	cloned := *s

	if s.PendingUpdate != nil {
		pending := *s.PendingUpdate
		cloned.PendingUpdate = &pending
	}

	if s.LastResult != nil {
		result := *s.LastResult
		cloned.LastResult = &result
	}

	return &cloned
}

// UpdateInfo is what a successful check surfaces to the host.
type UpdateInfo struct {
	// Current is the locally installed version the check compared against.
	Current Version
	// Manifest describes the newer release.
	Manifest Manifest
	// ReleaseTag is the tag the release host published it under.
	ReleaseTag string
}

// StagedUpdate is the transient record of one verified update attempt.
type StagedUpdate struct {
	AttemptID uuid.UUID
	// Root is the extraction directory, removed after the attempt.
	Root string
	// StagingDir is the directory inside Root holding the application payload.
	StagingDir string
	// BackupDir is where the orchestrator mirrors the install directory.
	BackupDir           string
	Manifest            Manifest
	DownloadedAssetPath string
}
