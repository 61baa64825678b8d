package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/repository/state"
	"github.com/oshokin/app-updater/internal/service/handoff"
	"github.com/oshokin/app-updater/internal/service/verifier"
	"github.com/oshokin/app-updater/internal/version"
)

// ErrUpdateInProgress is returned by BeginUpdate while another attempt runs.
var ErrUpdateInProgress = errors.New("an update is already in progress")

var errNoUpdateInfo = errors.New("update info is required")

// progressBuffer holds every event of one attempt so sends never block.
const progressBuffer = 8

// Phase is a step of an update attempt as seen by the host.
type Phase string

// Update phases in order. An attempt ends with PhaseDone or PhaseFailed.
const (
	PhaseDownloading       Phase = Phase(verifier.StageDownloading)
	PhaseVerifying         Phase = Phase(verifier.StageVerifying)
	PhaseExtracting        Phase = Phase(verifier.StageExtracting)
	PhaseCheckingSignature Phase = Phase(verifier.StageCheckingSignature)
	PhaseHandingOff        Phase = "handing_off"
	PhaseDone              Phase = "done"
	PhaseFailed            Phase = "failed"
)

// Progress is one event of an update attempt.
type Progress struct {
	Phase   Phase
	Version release.Version
	// Err is set on the final PhaseFailed event.
	Err error
}

// Checker asks the release host for a newer version.
type Checker interface {
	Check(ctx context.Context, current release.Version) (*release.UpdateInfo, error)
}

// Verifier downloads and admits a release to staging.
type Verifier interface {
	Verify(ctx context.Context, manifest *release.Manifest, report func(verifier.Stage)) (*release.StagedUpdate, error)
}

// Handoff starts the orchestrator and asks the host to exit.
type Handoff interface {
	Handoff(ctx context.Context, req *handoff.Request) (int, error)
}

// Host holds the callbacks into the application.
type Host struct {
	// Persist saves in-flight application state before the handoff.
	Persist func(ctx context.Context) error
	// Exit asks the application to terminate so that the swap can begin.
	Exit func()
}

// Settings are the installation facts the Manager passes to the handoff.
type Settings struct {
	InstallDir string
	Executable string
	Preserve   []string
	LogFile    string
	LockFile   string
	// DownloadTimeout bounds download and verification; zero means no bound.
	DownloadTimeout time.Duration
}

// Manager runs update checks and attempts on behalf of the host.
type Manager struct {
	checker     Checker
	verifier    Verifier
	coordinator Handoff
	repo        state.Repository
	settings    Settings
	host        Host
	now         func() time.Time

	mu       sync.Mutex
	inFlight bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithHost sets the application callbacks.
func WithHost(host Host) Option {
	return func(m *Manager) {
		m.host = host
	}
}

// New creates a Manager from its collaborators.
func New(
	checker Checker,
	stager Verifier,
	coordinator Handoff,
	repo state.Repository,
	settings Settings,
	opts ...Option,
) *Manager {
	m := &Manager{
		checker:     checker,
		verifier:    stager,
		coordinator: coordinator,
		repo:        repo,
		settings:    settings,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CheckForUpdate asks the release host for a newer version. It returns
// (nil, nil) when the installation is up to date, and an error wrapping
// release.ErrCheckFailed when the answer is unknown.
func (m *Manager) CheckForUpdate(ctx context.Context) (*release.UpdateInfo, error) {
	current := m.CurrentVersion()

	info, err := m.checker.Check(ctx, current)
	if err != nil {
		if !errors.Is(err, release.ErrCheckFailed) {
			err = fmt.Errorf("%w: %w", release.ErrCheckFailed, err)
		}

		logger.WarnKV(ctx, "Update check failed", "current", current.String(), "error", err)

		return nil, err
	}

	_, err = m.repo.Update(ctx, func(installed *release.InstallState) error {
		installed.LastCheckTimestamp = m.now().UTC()

		return nil
	})
	if err != nil {
		logger.WarnKV(ctx, "Failed to record the check time", "error", err)
	}

	return info, nil
}

// BeginUpdate starts an update attempt in the background and returns its
// progress stream. The channel is closed after the final PhaseDone or
// PhaseFailed event. Cancelling ctx abandons the attempt before the handoff
// and discards its files.
func (m *Manager) BeginUpdate(ctx context.Context, info *release.UpdateInfo) (<-chan Progress, error) {
	if info == nil {
		return nil, errNoUpdateInfo
	}

	m.mu.Lock()

	if m.inFlight {
		m.mu.Unlock()

		return nil, ErrUpdateInProgress
	}

	m.inFlight = true
	m.mu.Unlock()

	progress := make(chan Progress, progressBuffer)

	go m.attempt(ctx, info, progress)

	return progress, nil
}

// InFlight reports whether an update attempt is running.
func (m *Manager) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.inFlight
}

// CurrentVersion returns the installed version from the install state, or
// the version this binary was built with when no state was recorded yet.
func (m *Manager) CurrentVersion() release.Version {
	installed, err := m.repo.Load(context.Background())
	if err == nil && !installed.CurrentVersion.IsZero() {
		return installed.CurrentVersion
	}

	built, err := release.ParseVersion(version.Short())
	if err != nil {
		return release.Version{}
	}

	return built
}

// Status returns the recorded install state.
func (m *Manager) Status(ctx context.Context) (*release.InstallState, error) {
	installed, err := m.repo.Load(ctx)
	if errors.Is(err, state.ErrNotFound) {
		return &release.InstallState{
			CurrentVersion: m.CurrentVersion(),
			InstallDir:     m.settings.InstallDir,
		}, nil
	}

	return installed, err
}

func (m *Manager) attempt(ctx context.Context, info *release.UpdateInfo, progress chan<- Progress) {
	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()

		close(progress)
	}()

	target := info.Manifest.Version
	ctx = logger.WithKV(ctx, "version", target.String())

	emit := func(phase Phase, err error) {
		progress <- Progress{Phase: phase, Version: target, Err: err}
	}

	fail := func(err error) {
		logger.ErrorKV(ctx, "Update attempt failed", "error", err)
		emit(PhaseFailed, err)
	}

	staged, err := m.verify(ctx, info, emit)
	if err != nil {
		fail(err)

		return
	}

	if err = ctx.Err(); err != nil {
		m.discard(ctx, staged)
		fail(err)

		return
	}

	emit(PhaseHandingOff, nil)

	_, err = m.coordinator.Handoff(ctx, &handoff.Request{
		Staged:     staged,
		InstallDir: m.settings.InstallDir,
		Executable: m.settings.Executable,
		Preserve:   m.settings.Preserve,
		LogFile:    m.settings.LogFile,
		LockFile:   m.settings.LockFile,
		Persist:    m.host.Persist,
		Exit:       m.host.Exit,
	})
	if err != nil {
		m.discard(ctx, staged)
		fail(fmt.Errorf("hand off: %w", err))

		return
	}

	emit(PhaseDone, nil)
}

func (m *Manager) verify(
	ctx context.Context,
	info *release.UpdateInfo,
	emit func(Phase, error),
) (*release.StagedUpdate, error) {
	if m.settings.DownloadTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, m.settings.DownloadTimeout)
		defer cancel()
	}

	manifest := info.Manifest

	staged, err := m.verifier.Verify(ctx, &manifest, func(stage verifier.Stage) {
		emit(Phase(stage), nil)
	})
	if err != nil {
		return nil, err
	}

	// The archive is no longer needed once its payload is staged.
	if err = verifier.Cleanup(staged, true); err != nil {
		logger.WarnKV(ctx, "Failed to remove the downloaded archive", "error", err)
	}

	return staged, nil
}

func (m *Manager) discard(ctx context.Context, staged *release.StagedUpdate) {
	if err := verifier.Cleanup(staged, false); err != nil {
		logger.WarnKV(ctx, "Failed to discard staged update", "error", err)
	}
}
