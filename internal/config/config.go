package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/app-updater/internal/fsutil"
)

// Config holds the settings shared by the updater binaries.
type Config struct {
	// AppName is the product name used in user agents, asset names and cache paths.
	AppName string `yaml:"app_name"`
	// Executable is the file name of the application inside the install directory.
	Executable string `yaml:"executable"`
	// InstallDir is the directory the application runs from. Defaults to the
	// directory of the running binary.
	InstallDir string `yaml:"install_dir,omitempty"`
	// Release describes where releases are published.
	Release ReleaseConfig `yaml:"release"`
	// TrustedKeysFile is a PEM bundle of public keys allowed to sign executables.
	TrustedKeysFile string `yaml:"trusted_keys_file"`
	// UpdateRoot holds downloads, staging and backup directories, the state
	// file and the orchestrator log.
	UpdateRoot string `yaml:"update_root,omitempty"`
	// Preserve lists install-relative files restored after every swap.
	Preserve []string `yaml:"preserve,omitempty"`
	// Timeout bounds a single release host API call.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// DownloadTimeout bounds the archive download.
	DownloadTimeout time.Duration `yaml:"download_timeout,omitempty"`
	// CheckInterval is the auto-check period.
	CheckInterval time.Duration `yaml:"check_interval,omitempty"`
	// AutoCheck enables the background checker.
	AutoCheck bool `yaml:"auto_check"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`
}

// ReleaseConfig points at a GitHub-compatible release host.
type ReleaseConfig struct {
	APIURL string `yaml:"api_url,omitempty"`
	Owner  string `yaml:"owner"`
	Repo   string `yaml:"repo"`
	// ManifestAsset is the name of the manifest attached to each release.
	ManifestAsset string `yaml:"manifest_asset,omitempty"`
	// Token is an optional bearer token for private repositories and higher rate limits.
	Token string `yaml:"token,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for updater settings.
	DefaultConfigFilename = "updater-settings.yaml"

	// DefaultStateFilename is the name of the install state file inside the update root.
	DefaultStateFilename = "install-state.json"

	// DefaultLogFilename is the name of the orchestrator log inside the update root.
	DefaultLogFilename = "update.log"

	// DefaultLockFilename is the name of the orchestrator lock inside the update root.
	DefaultLockFilename = "orchestrator.lock"

	// OrchestratorName is the base name of the swap orchestrator binary.
	OrchestratorName = "swap-orchestrator"

	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com"

	// DefaultTimeout is the default duration for release host calls.
	DefaultTimeout = 15 * time.Second

	// DefaultDownloadTimeout is the default duration for archive downloads.
	DefaultDownloadTimeout = 10 * time.Minute

	// DefaultCheckInterval is how often the background checker polls.
	DefaultCheckInterval = 6 * time.Hour

	// DefaultFilePermissions is the default file permission for config and state files.
	DefaultFilePermissions = 0o600
)

// DefaultPreserve is the config snapshot kept across swaps when none is configured.
//
//nolint:gochecknoglobals // Read-only default.
var DefaultPreserve = []string{"config.json"}

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errAppNameRequired is returned when app_name is missing.
	errAppNameRequired = errors.New("app_name must be provided")
	// errRepositoryRequired is returned when release.owner or release.repo is missing.
	errRepositoryRequired = errors.New("release.owner and release.repo must be provided")
	// errUnsafePreserve is returned for preserve entries escaping the install directory.
	errUnsafePreserve = errors.New("preserve entries must be relative paths inside the install directory")
	// errUpdateRootInsideInstall is returned when the update root would be backed up and purged with the installation.
	errUpdateRootInsideInstall = errors.New("update_root must not be inside install_dir")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may carry a token.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	settings.AppName = strings.TrimSpace(settings.AppName)
	if settings.AppName == "" {
		return errAppNameRequired
	}

	if settings.Release.Owner == "" || settings.Release.Repo == "" {
		return errRepositoryRequired
	}

	if settings.Release.APIURL == "" {
		settings.Release.APIURL = DefaultAPIURL
	}

	if u, err := url.ParseRequestURI(settings.Release.APIURL); err != nil || u.Host == "" {
		return fmt.Errorf("invalid release api url %q", settings.Release.APIURL)
	}

	settings.Release.APIURL = strings.TrimRight(settings.Release.APIURL, "/")

	if settings.Release.ManifestAsset == "" {
		settings.Release.ManifestAsset = settings.AppName + "-update.json"
	}

	if settings.Executable == "" {
		settings.Executable = DefaultExecutable(settings.AppName)
	}

	if settings.UpdateRoot == "" {
		root, err := defaultUpdateRoot(settings.AppName)
		if err != nil {
			return err
		}

		settings.UpdateRoot = root
	}

	if settings.InstallDir != "" {
		if err := settings.CheckUpdateRoot(settings.InstallDir); err != nil {
			return err
		}
	}

	if len(settings.Preserve) == 0 {
		settings.Preserve = append([]string(nil), DefaultPreserve...)
	}

	for _, name := range settings.Preserve {
		if !IsLocalPath(name) {
			return fmt.Errorf("%q: %w", name, errUnsafePreserve)
		}
	}

	// Set default timeouts if not specified.
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.DownloadTimeout <= 0 {
		settings.DownloadTimeout = DefaultDownloadTimeout
	}

	if settings.CheckInterval <= 0 {
		settings.CheckInterval = DefaultCheckInterval
	}

	return nil
}

// CheckUpdateRoot fails when the update root is installDir or lies inside it.
// The orchestrator mirrors and purges installDir, so downloads, staging and
// backups kept inside it would be copied into themselves and then deleted.
func (c *Config) CheckUpdateRoot(installDir string) error {
	if fsutil.Within(installDir, c.UpdateRoot) {
		return fmt.Errorf("%s in %s: %w", c.UpdateRoot, installDir, errUpdateRootInsideInstall)
	}

	return nil
}

// StateFile returns the install state path inside the update root.
func (c *Config) StateFile() string {
	return filepath.Join(c.UpdateRoot, DefaultStateFilename)
}

// LogFile returns the orchestrator log path inside the update root.
func (c *Config) LogFile() string {
	return filepath.Join(c.UpdateRoot, DefaultLogFilename)
}

// LockFile returns the orchestrator lock path inside the update root.
func (c *Config) LockFile() string {
	return filepath.Join(c.UpdateRoot, DefaultLockFilename)
}

// DefaultExecutable returns the platform file name for an application binary.
func DefaultExecutable(appName string) string {
	if filepath.Separator == '\\' {
		return appName + ".exe"
	}

	return appName
}

// IsLocalPath reports whether name is a relative path that stays inside its base directory.
func IsLocalPath(name string) bool {
	return name != "" && filepath.IsLocal(filepath.FromSlash(name))
}

func defaultUpdateRoot(appName string) (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve update root: %w", err)
	}

	return filepath.Join(cacheDir, appName, "updates"), nil
}
