package orchestrator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/oshokin/app-updater/internal/config"
	"github.com/oshokin/app-updater/internal/fsutil"
)

// Process exit codes.
const (
	ExitSuccess = 0
	// ExitAborted means the run stopped before any mutation: another
	// orchestrator holds the lock or a signal arrived while waiting.
	ExitAborted         = 1
	ExitMissingArgument = 2
	ExitDirectoryAbsent = 3
	ExitBackupFailed    = 4
	ExitRolledBack      = 5
	ExitRollbackFailed  = 6
)

const positionalArgsNumber = 5

// Command-line flag names shared by the orchestrator binary and the handoff.
const (
	FlagStateFile   = "state-file"
	FlagLogFile     = "log-file"
	FlagLockFile    = "lock-file"
	FlagPreserve    = "preserve"
	FlagStagingRoot = "staging-root"
)

var (
	errMissingArgument = errors.New("missing argument")
	errBadPID          = errors.New("invalid pid")
	errOverlappingDirs = errors.New("directories must not contain each other")
	errUnsafePreserve  = errors.New("preserve entries must be relative paths inside the install directory")
)

// Options describe one swap.
type Options struct {
	// InstallDir is the live application directory that gets replaced.
	InstallDir string
	// StagingDir holds the verified payload of the new release.
	StagingDir string
	// BackupDir receives a mirror of InstallDir before any mutation.
	BackupDir string
	// Executable is the file name relaunched from InstallDir.
	Executable string
	// PID is the host process to wait out.
	PID int

	// StateFile is the install state to update; optional.
	StateFile string
	// LogFile is where the orchestrator logs; optional.
	LogFile string
	// LockFile guards against concurrent orchestrators; optional.
	LockFile string
	// Preserve lists the settings files restored from the backup.
	Preserve []string
	// StagingRoot is the extraction directory removed after the run.
	// It defaults to StagingDir.
	StagingRoot string
}

// ParsePositional fills the five positional arguments.
func (o *Options) ParsePositional(args []string) error {
	if len(args) < positionalArgsNumber {
		return fmt.Errorf("%w: want %d positional arguments, got %d",
			errMissingArgument, positionalArgsNumber, len(args))
	}

	o.InstallDir = args[0]
	o.StagingDir = args[1]
	o.BackupDir = args[2]
	o.Executable = args[3]

	pid, err := strconv.Atoi(strings.TrimSpace(args[4]))
	if err != nil || pid <= 0 {
		return fmt.Errorf("%w: %w %q", errMissingArgument, errBadPID, args[4])
	}

	o.PID = pid

	return nil
}

// Validate checks that every required argument is present.
func (o *Options) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"install_dir", o.InstallDir},
		{"staging_dir", o.StagingDir},
		{"backup_dir", o.BackupDir},
		{"executable_name", o.Executable},
	}

	for _, arg := range required {
		if strings.TrimSpace(arg.value) == "" {
			return fmt.Errorf("%w: %s", errMissingArgument, arg.name)
		}
	}

	if o.PID <= 0 {
		return fmt.Errorf("%w: %w %d", errMissingArgument, errBadPID, o.PID)
	}

	if err := o.validateLayout(); err != nil {
		return err
	}

	for _, name := range o.Preserve {
		if !config.IsLocalPath(name) {
			return fmt.Errorf("%q: %w", name, errUnsafePreserve)
		}
	}

	return nil
}

// validateLayout rejects directory layouts where removing or mirroring one
// directory would touch another: the backup is recreated from scratch, the
// install directory is purged and the staging root is removed afterwards.
func (o *Options) validateLayout() error {
	pairs := []struct {
		name  string
		left  string
		right string
	}{
		{"install_dir and backup_dir", o.InstallDir, o.BackupDir},
		{"install_dir and staging_dir", o.InstallDir, o.StagingDir},
		{"install_dir and staging root", o.InstallDir, o.StagingRoot},
		{"backup_dir and staging_dir", o.BackupDir, o.StagingDir},
		{"backup_dir and staging root", o.BackupDir, o.StagingRoot},
	}

	for _, pair := range pairs {
		if pair.left == "" || pair.right == "" {
			continue
		}

		if fsutil.Overlap(pair.left, pair.right) {
			return fmt.Errorf("%s: %w", pair.name, errOverlappingDirs)
		}
	}

	return nil
}

// Args renders the options as a command line for the orchestrator binary.
func (o *Options) Args() []string {
	args := []string{
		o.InstallDir,
		o.StagingDir,
		o.BackupDir,
		o.Executable,
		strconv.Itoa(o.PID),
	}

	flags := []struct {
		name  string
		value string
	}{
		{FlagStateFile, o.StateFile},
		{FlagLogFile, o.LogFile},
		{FlagLockFile, o.LockFile},
		{FlagStagingRoot, o.StagingRoot},
	}

	for _, flag := range flags {
		if flag.value != "" {
			args = append(args, "--"+flag.name, flag.value)
		}
	}

	if len(o.Preserve) > 0 {
		args = append(args, "--"+FlagPreserve, strings.Join(o.Preserve, ","))
	}

	return args
}
