package release

import "errors"

// Pre-mutation failures. The update is declined and the installation is untouched.
var (
	// ErrNetwork covers transport failures and unexpected HTTP statuses.
	ErrNetwork = errors.New("network error")
	// ErrManifestMalformed is returned when a manifest fails to parse or validate.
	ErrManifestMalformed = errors.New("manifest malformed")
	// ErrHashMismatch is returned when the downloaded asset does not match manifest.sha256.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrSignatureInvalid is returned when the executable is unsigned or signed by an untrusted key.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrArchiveInvalid is returned when a hash-verified archive cannot be staged safely.
	ErrArchiveInvalid = errors.New("archive invalid")
	// ErrCheckFailed wraps every failure of an update check so that callers can
	// tell it apart from "no update available".
	ErrCheckFailed = errors.New("check failed")
)

// Orchestrator failures, reported through exit codes and the install state.
var (
	// ErrBackupFailed means the install directory could not be mirrored; nothing was mutated.
	ErrBackupFailed = errors.New("backup failed")
	// ErrInstallCopyFailed means the install directory is indeterminate and must be rolled back.
	ErrInstallCopyFailed = errors.New("install copy failed")
	// ErrRollbackFailed means restoring the backup did not complete.
	ErrRollbackFailed = errors.New("rollback failed")
	// ErrConfigRestoreFailed is non-fatal: the swap stands but settings may have been reset.
	ErrConfigRestoreFailed = errors.New("config restore failed")
)

// ErrResolution is returned when the next release version cannot be computed.
var ErrResolution = errors.New("version resolution failed")
