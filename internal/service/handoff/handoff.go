package handoff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/fsutil"
	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/procutil"
	"github.com/oshokin/app-updater/internal/repository/state"
	"github.com/oshokin/app-updater/internal/service/orchestrator"
)

var (
	errPersistFailed = errors.New("persist application state")
	errNoStaged      = errors.New("no staged update")
)

// Spawner starts the orchestrator as a process that outlives the caller.
type Spawner interface {
	Spawn(ctx context.Context, path string, args []string, dir string) (int, error)
}

// ExecSpawner starts real detached processes.
type ExecSpawner struct{}

// Spawn implements Spawner.
func (ExecSpawner) Spawn(_ context.Context, path string, args []string, dir string) (int, error) {
	return procutil.StartDetached(path, args, dir)
}

// Request describes one handoff.
type Request struct {
	Staged     *release.StagedUpdate
	InstallDir string
	Executable string
	Preserve   []string
	LogFile    string
	LockFile   string
	// Persist saves in-flight application state before the handoff.
	Persist func(ctx context.Context) error
	// Exit asks the application to terminate.
	Exit func()
}

// Coordinator hands staged updates to the orchestrator.
type Coordinator struct {
	repo             state.Repository
	spawner          Spawner
	orchestratorPath string
	updateRoot       string
	pid              func() int
	now              func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSpawner replaces the detached process spawner.
func WithSpawner(spawner Spawner) Option {
	return func(c *Coordinator) {
		c.spawner = spawner
	}
}

// WithPID overrides the PID the orchestrator waits for.
func WithPID(pid func() int) Option {
	return func(c *Coordinator) {
		c.pid = pid
	}
}

// New creates a Coordinator. orchestratorPath is the orchestrator binary
// shipped in the install directory; it is copied into updateRoot before it
// runs so that the swap can replace the original.
func New(repo state.Repository, orchestratorPath, updateRoot string, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:             repo,
		spawner:          ExecSpawner{},
		orchestratorPath: orchestratorPath,
		updateRoot:       updateRoot,
		pid:              os.Getpid,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Handoff records the pending update, starts the orchestrator and asks the
// application to exit. Nothing in the install directory changes here. When
// the orchestrator cannot be started the pending update is withdrawn.
func (c *Coordinator) Handoff(ctx context.Context, req *Request) (int, error) {
	if req == nil || req.Staged == nil {
		return 0, errNoStaged
	}

	staged := req.Staged
	ctx = logger.WithKV(ctx, "attempt", staged.AttemptID.String())

	if req.Persist != nil {
		if err := req.Persist(ctx); err != nil {
			return 0, fmt.Errorf("%w: %w", errPersistFailed, err)
		}
	}

	if err := c.recordPending(ctx, req); err != nil {
		return 0, err
	}

	pid, err := c.spawn(ctx, req)
	if err != nil {
		if clearErr := c.clearPending(ctx); clearErr != nil {
			logger.WarnKV(ctx, "Failed to withdraw pending update", "error", clearErr)
		}

		return 0, err
	}

	logger.InfoKV(ctx, "Orchestrator started, exiting", "orchestrator_pid", pid)

	if req.Exit != nil {
		req.Exit()
	}

	return pid, nil
}

func (c *Coordinator) recordPending(ctx context.Context, req *Request) error {
	staged := req.Staged

	_, err := c.repo.Update(ctx, func(current *release.InstallState) error {
		current.InstallDir = req.InstallDir
		current.PendingUpdate = &release.PendingUpdate{
			AttemptID:   staged.AttemptID,
			Version:     staged.Manifest.Version,
			StagingDir:  staged.StagingDir,
			BackupDir:   staged.BackupDir,
			RequestedAt: c.now().UTC(),
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("record pending update: %w", err)
	}

	return nil
}

func (c *Coordinator) clearPending(ctx context.Context) error {
	_, err := c.repo.Update(ctx, func(current *release.InstallState) error {
		current.PendingUpdate = nil

		return nil
	})

	return err
}

// spawn copies the orchestrator out of the install directory and starts it.
func (c *Coordinator) spawn(ctx context.Context, req *Request) (int, error) {
	if err := os.MkdirAll(c.updateRoot, 0o755); err != nil {
		return 0, fmt.Errorf("create update root: %w", err)
	}

	binary := filepath.Join(c.updateRoot, filepath.Base(c.orchestratorPath))
	if err := fsutil.CopyFile(c.orchestratorPath, binary); err != nil {
		return 0, fmt.Errorf("copy orchestrator: %w", err)
	}

	opts := orchestrator.Options{
		InstallDir:  req.InstallDir,
		StagingDir:  req.Staged.StagingDir,
		BackupDir:   req.Staged.BackupDir,
		Executable:  req.Executable,
		PID:         c.pid(),
		LogFile:     req.LogFile,
		LockFile:    req.LockFile,
		Preserve:    req.Preserve,
		StagingRoot: req.Staged.Root,
	}

	if located, ok := c.repo.(interface{ Path() string }); ok {
		opts.StateFile = located.Path()
	}

	logger.InfoKV(ctx, "Starting orchestrator", "path", binary, "args", opts.Args())

	pid, err := c.spawner.Spawn(ctx, binary, opts.Args(), c.updateRoot)
	if err != nil {
		return 0, fmt.Errorf("start orchestrator: %w", err)
	}

	return pid, nil
}
