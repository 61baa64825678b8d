package updater

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/app-updater/internal/config"
	"github.com/oshokin/app-updater/internal/repository/state"
	"github.com/oshokin/app-updater/internal/service/handoff"
	"github.com/oshokin/app-updater/internal/service/releases"
	"github.com/oshokin/app-updater/internal/service/verifier"
	"github.com/oshokin/app-updater/internal/signing"
	"github.com/oshokin/app-updater/internal/version"
)

// NewFromConfig wires a Manager against the real release host, the install
// state file and the orchestrator shipped next to the application.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Manager, error) {
	installDir, err := InstallDir(cfg)
	if err != nil {
		return nil, err
	}

	if err = cfg.CheckUpdateRoot(installDir); err != nil {
		return nil, err
	}

	var trusted []ed25519.PublicKey

	if cfg.TrustedKeysFile != "" {
		trusted, err = signing.LoadPublicKeys(cfg.TrustedKeysFile)
		if err != nil {
			return nil, fmt.Errorf("load trusted keys: %w", err)
		}
	}

	client, err := releases.NewFromConfig(cfg, releases.WithUserAgent(version.UserAgent(cfg.AppName)))
	if err != nil {
		return nil, err
	}

	repo := state.NewFileRepository(cfg.StateFile())
	orchestratorPath := filepath.Join(installDir, config.DefaultExecutable(config.OrchestratorName))

	settings := Settings{
		InstallDir:      installDir,
		Executable:      cfg.Executable,
		Preserve:        cfg.Preserve,
		LogFile:         cfg.LogFile(),
		LockFile:        cfg.LockFile(),
		DownloadTimeout: cfg.DownloadTimeout,
	}

	return New(
		client,
		verifier.New(client, trusted, cfg.UpdateRoot, cfg.Executable),
		handoff.New(repo, orchestratorPath, cfg.UpdateRoot),
		repo,
		settings,
		opts...,
	), nil
}

// InstallDir returns the configured install directory or, when none is set,
// the directory of the running binary.
func InstallDir(cfg *config.Config) (string, error) {
	if cfg.InstallDir != "" {
		return filepath.Abs(cfg.InstallDir)
	}

	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate install directory: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(executable)
	if err != nil {
		return "", fmt.Errorf("locate install directory: %w", err)
	}

	return filepath.Dir(resolved), nil
}
