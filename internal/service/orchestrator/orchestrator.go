package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/fsutil"
	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/procutil"
	"github.com/oshokin/app-updater/internal/repository/state"
)

// State is a step of the swap state machine.
type State string

// Swap states.
const (
	StateIdle            State = "idle"
	StateBackingUp       State = "backing_up"
	StateInstalling      State = "installing"
	StateRestoringConfig State = "restoring_config"
	StateRelaunching     State = "relaunching"
	StateDone            State = "done"
	StateRollingBack     State = "rolling_back"
	StateRelaunchingOld  State = "relaunching_old"
	StateFailed          State = "failed"
)

var errDirectoryAbsent = errors.New("directory does not exist")

// Syncer is the directory mirror primitive used for backup, install and rollback.
type Syncer interface {
	// Sync makes dst an exact copy of src.
	Sync(ctx context.Context, src, dst string) error
	// Copy copies src over dst without deleting anything.
	Copy(ctx context.Context, src, dst string) error
	// Purge empties dir.
	Purge(ctx context.Context, dir string) error
}

// Launcher starts the application after the swap.
type Launcher interface {
	Launch(ctx context.Context, path string) error
}

// Orchestrator performs one swap.
type Orchestrator struct {
	opts         Options
	mirror       Syncer
	launcher     Launcher
	alive        func(int) (bool, error)
	pollInterval time.Duration
	repo         state.Repository
	verifyBackup bool
	onTransition func(State)
	now          func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSyncer replaces the default fsutil mirror.
func WithSyncer(mirror Syncer) Option {
	return func(o *Orchestrator) {
		o.mirror = mirror
	}
}

// WithLauncher replaces the detached process launcher.
func WithLauncher(launcher Launcher) Option {
	return func(o *Orchestrator) {
		o.launcher = launcher
	}
}

// WithLiveness sets the host liveness probe and its polling interval.
func WithLiveness(alive func(int) (bool, error), interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.alive = alive
		o.pollInterval = interval
	}
}

// WithStateRepository overrides the repository derived from Options.StateFile.
func WithStateRepository(repo state.Repository) Option {
	return func(o *Orchestrator) {
		o.repo = repo
	}
}

// WithBackupVerification compares the backup with the install directory
// before anything is mutated.
func WithBackupVerification(enabled bool) Option {
	return func(o *Orchestrator) {
		o.verifyBackup = enabled
	}
}

// WithTransitionHook is called on every state change.
func WithTransitionHook(hook func(State)) Option {
	return func(o *Orchestrator) {
		o.onTransition = hook
	}
}

// New creates an Orchestrator for the given options.
func New(opts Options, options ...Option) *Orchestrator {
	o := &Orchestrator{
		opts:         opts,
		mirror:       fsutil.NewMirror(),
		launcher:     procutil.Launcher{},
		alive:        procutil.Alive,
		pollInterval: procutil.DefaultPollInterval,
		verifyBackup: true,
		onTransition: func(State) {},
		now:          time.Now,
	}

	if opts.StateFile != "" {
		o.repo = state.NewFileRepository(opts.StateFile)
	}

	for _, option := range options {
		option(o)
	}

	if o.opts.StagingRoot == "" {
		o.opts.StagingRoot = o.opts.StagingDir
	}

	return o
}

// runner holds the bookkeeping of a single Run.
type runner struct {
	*Orchestrator

	state   State
	pending *release.PendingUpdate
	result  release.Result
}

// Run executes the swap and returns its result. ExitCode is the process exit
// code. Cancelling ctx only has an effect while waiting for the host to exit.
func (o *Orchestrator) Run(ctx context.Context) *release.Result {
	ctx = logger.WithName(ctx, "swap-orchestrator")

	r := &runner{Orchestrator: o, state: StateIdle}

	if err := o.opts.Validate(); err != nil {
		return r.abort(ctx, ExitMissingArgument, err)
	}

	if err := r.checkDirectories(); err != nil {
		return r.abort(ctx, ExitDirectoryAbsent, err)
	}

	if o.opts.LockFile != "" {
		lock, err := procutil.AcquireLock(o.opts.LockFile, o.alive)
		if err != nil {
			return r.abort(ctx, ExitAborted, err)
		}

		defer func() {
			if err := lock.Release(); err != nil {
				logger.WarnKV(ctx, "Failed to release lock", "error", err)
			}
		}()
	}

	r.loadPending(ctx)

	if r.pending != nil {
		ctx = logger.WithKV(ctx, "attempt", r.pending.AttemptID.String())
	}

	logger.InfoKV(ctx, "Waiting for the application to exit", "pid", o.opts.PID)

	if err := procutil.WaitExit(ctx, o.opts.PID, o.pollInterval, o.alive); err != nil {
		return r.abort(ctx, ExitAborted, fmt.Errorf("wait for pid %d: %w", o.opts.PID, err))
	}

	// From here on the run always reaches a terminal state.
	ctx = context.WithoutCancel(ctx)

	r.swap(ctx)
	r.finish(ctx)

	return &r.result
}

func (r *runner) swap(ctx context.Context) {
	r.transition(ctx, StateBackingUp)

	if err := r.backup(ctx); err != nil {
		logger.ErrorKV(ctx, "Backup failed, the installation is untouched", "error", err)
		r.fail(release.OutcomeBackupFailed, ExitBackupFailed, err)
		r.relaunch(ctx, StateRelaunchingOld)
		r.transition(ctx, StateFailed)

		return
	}

	r.transition(ctx, StateInstalling)

	if err := r.install(ctx); err != nil {
		logger.ErrorKV(ctx, "Install failed, rolling back", "error", err)
		r.rollback(ctx, err)

		return
	}

	r.transition(ctx, StateRestoringConfig)
	r.restoreConfig(ctx)

	r.result.Outcome = release.OutcomeUpdated
	r.result.ExitCode = ExitSuccess

	r.relaunch(ctx, StateRelaunching)
	r.transition(ctx, StateDone)
}

func (r *runner) backup(ctx context.Context) error {
	if err := os.RemoveAll(r.opts.BackupDir); err != nil {
		return fmt.Errorf("%w: reset backup directory: %w", release.ErrBackupFailed, err)
	}

	if err := r.mirror.Sync(ctx, r.opts.InstallDir, r.opts.BackupDir); err != nil {
		return fmt.Errorf("%w: %w", release.ErrBackupFailed, err)
	}

	if r.verifyBackup {
		if err := fsutil.Compare(r.opts.InstallDir, r.opts.BackupDir); err != nil {
			return fmt.Errorf("%w: %w", release.ErrBackupFailed, err)
		}
	}

	logger.InfoKV(ctx, "Install directory backed up", "backup_dir", r.opts.BackupDir)

	return nil
}

func (r *runner) install(ctx context.Context) error {
	if err := r.mirror.Purge(ctx, r.opts.InstallDir); err != nil {
		return fmt.Errorf("%w: purge: %w", release.ErrInstallCopyFailed, err)
	}

	if err := r.mirror.Copy(ctx, r.opts.StagingDir, r.opts.InstallDir); err != nil {
		return fmt.Errorf("%w: %w", release.ErrInstallCopyFailed, err)
	}

	logger.InfoKV(ctx, "New release copied into place", "install_dir", r.opts.InstallDir)

	return nil
}

func (r *runner) rollback(ctx context.Context, cause error) {
	r.transition(ctx, StateRollingBack)

	if err := r.mirror.Sync(ctx, r.opts.BackupDir, r.opts.InstallDir); err != nil {
		err = fmt.Errorf("%w: %w (after %w)", release.ErrRollbackFailed, err, cause)

		logger.ErrorKV(ctx, "ROLLBACK FAILED: the install directory is incomplete, restore it manually",
			"backup_dir", r.opts.BackupDir,
			"install_dir", r.opts.InstallDir,
			"error", err)

		r.fail(release.OutcomeRollbackFailed, ExitRollbackFailed, err)
		r.transition(ctx, StateFailed)

		return
	}

	r.restoreConfig(ctx)
	r.fail(release.OutcomeRolledBack, ExitRolledBack, cause)

	logger.WarnKV(ctx, "Rolled back to the previous version", "install_dir", r.opts.InstallDir)

	r.relaunch(ctx, StateRelaunchingOld)
	r.transition(ctx, StateFailed)
}

// relaunch starts the executable in the install directory. A launch failure
// does not change the outcome of the swap.
func (r *runner) relaunch(ctx context.Context, step State) {
	r.transition(ctx, step)

	path := filepath.Join(r.opts.InstallDir, r.opts.Executable)

	if err := r.launcher.Launch(ctx, path); err != nil {
		logger.ErrorKV(ctx, "Failed to relaunch the application", "path", path, "error", err)
		r.appendError(fmt.Errorf("relaunch: %w", err))

		return
	}

	logger.InfoKV(ctx, "Application relaunched", "path", path)
}

func (r *runner) fail(outcome release.Outcome, code int, err error) {
	r.result.Outcome = outcome
	r.result.ExitCode = code
	r.appendError(err)
}

func (r *runner) appendError(err error) {
	if r.result.Error == "" {
		r.result.Error = err.Error()

		return
	}

	r.result.Error += "; " + err.Error()
}

// finish records the result and removes the attempt's directories.
func (r *runner) finish(ctx context.Context) {
	r.result.FinishedAt = r.now().UTC()

	if r.pending != nil {
		r.result.AttemptID = r.pending.AttemptID
		r.result.Version = r.pending.Version
	}

	r.saveResult(ctx)

	if err := r.cleanup(); err != nil {
		logger.WarnKV(ctx, "Cleanup incomplete", "error", err)
	}

	logger.InfoKV(ctx, "Swap finished",
		"outcome", r.result.Outcome,
		"exit_code", r.result.ExitCode,
		"config_reset", r.result.ConfigReset)
}

// cleanup removes staging and backup directories. The backup is kept when the
// rollback failed because it is the only intact copy left.
func (r *runner) cleanup() error {
	var result *multierror.Error

	dirs := []string{r.opts.StagingRoot}
	if r.result.Outcome != release.OutcomeRollbackFailed {
		dirs = append(dirs, r.opts.BackupDir)
	}

	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func (r *runner) abort(ctx context.Context, code int, err error) *release.Result {
	logger.ErrorKV(ctx, "Swap aborted before any change", "exit_code", code, "error", err)

	r.result = release.Result{
		ExitCode:   code,
		Error:      err.Error(),
		FinishedAt: r.now().UTC(),
	}

	return &r.result
}

func (r *runner) transition(ctx context.Context, next State) {
	logger.InfoKV(ctx, "State changed", "from", r.state, "to", next)

	r.state = next
	r.onTransition(next)
}

func (r *runner) checkDirectories() error {
	for _, dir := range []string{r.opts.InstallDir, r.opts.StagingDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%s: %w", dir, errDirectoryAbsent)
		}

		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory: %w", dir, errDirectoryAbsent)
		}
	}

	return nil
}

func (r *runner) loadPending(ctx context.Context) {
	if r.repo == nil {
		return
	}

	current, err := r.repo.Load(ctx)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			logger.WarnKV(ctx, "Failed to read install state", "error", err)
		}

		return
	}

	r.pending = current.PendingUpdate
}

func (r *runner) saveResult(ctx context.Context) {
	if r.repo == nil {
		return
	}

	result := r.result

	_, err := r.repo.Update(ctx, func(current *release.InstallState) error {
		if result.Outcome == release.OutcomeUpdated && r.pending != nil {
			current.CurrentVersion = r.pending.Version
		}

		if current.InstallDir == "" {
			current.InstallDir = r.opts.InstallDir
		}

		current.PendingUpdate = nil
		current.LastResult = &result

		return nil
	})
	if err != nil {
		logger.ErrorKV(ctx, "Failed to record the swap result", "error", err)
	}
}
