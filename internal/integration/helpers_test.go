package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/app-updater/internal/config"
	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/fsutil"
	"github.com/oshokin/app-updater/internal/repository/state"
	"github.com/oshokin/app-updater/internal/service/handoff"
	"github.com/oshokin/app-updater/internal/service/orchestrator"
	"github.com/oshokin/app-updater/internal/service/packager"
	"github.com/oshokin/app-updater/internal/service/releases"
	"github.com/oshokin/app-updater/internal/service/updater"
	"github.com/oshokin/app-updater/internal/service/verifier"
	"github.com/oshokin/app-updater/internal/signing"
)

const (
	appName      = "Plexible"
	owner        = "oshokin"
	repo         = "plexible"
	newVersion   = "1.38.0"
	oldBinary    = "plexible 1.37.0"
	newBinary    = "plexible 1.38.0"
	userSettings = `{"token":"user-secret","theme":"dark"}`
	hostPID      = 31337
)

var (
	errUnexpectedPID  = errors.New("unexpected pid")
	errUnexpectedFlag = errors.New("unexpected orchestrator flag")
	errInterrupted    = errors.New("copy interrupted")
)

// launchRecorder stands in for starting the relaunched application.
type launchRecorder struct {
	mu       sync.Mutex
	binaries []string
}

func (l *launchRecorder) Launch(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.binaries = append(l.binaries, string(data))
	l.mu.Unlock()

	return nil
}

func (l *launchRecorder) launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.binaries...)
}

// inProcessSpawner runs the orchestrator on a goroutine instead of a process,
// parsing the same command line the real binary would get.
type inProcessSpawner struct {
	options  []orchestrator.Option
	results  chan *release.Result
	hostDone *atomic.Bool
}

func (s *inProcessSpawner) Spawn(_ context.Context, path string, args []string, _ string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}

	opts, err := parseOrchestratorArgs(args)
	if err != nil {
		return 0, err
	}

	// The orchestrator must only proceed once the host is gone.
	alive := func(pid int) (bool, error) {
		if pid != hostPID {
			return false, fmt.Errorf("%w: %d", errUnexpectedPID, pid)
		}

		return !s.hostDone.Load(), nil
	}

	options := append([]orchestrator.Option{orchestrator.WithLiveness(alive, time.Millisecond)}, s.options...)

	go func() {
		s.results <- orchestrator.New(opts, options...).Run(context.Background())
	}()

	return hostPID + 1, nil
}

func parseOrchestratorArgs(args []string) (orchestrator.Options, error) {
	var opts orchestrator.Options
	if err := opts.ParsePositional(args); err != nil {
		return opts, err
	}

	flags := args[5:]
	if len(flags)%2 != 0 {
		return opts, fmt.Errorf("%w: %v", errUnexpectedFlag, flags)
	}

	for i := 0; i < len(flags); i += 2 {
		value := flags[i+1]

		switch strings.TrimPrefix(flags[i], "--") {
		case orchestrator.FlagStateFile:
			opts.StateFile = value
		case orchestrator.FlagLogFile:
			opts.LogFile = value
		case orchestrator.FlagLockFile:
			opts.LockFile = value
		case orchestrator.FlagStagingRoot:
			opts.StagingRoot = value
		case orchestrator.FlagPreserve:
			opts.Preserve = strings.Split(value, ",")
		default:
			return opts, fmt.Errorf("%w: %s", errUnexpectedFlag, flags[i])
		}
	}

	return opts, nil
}

// pipeline is an installation of version 1.37.0 plus a release host that
// publishes 1.38.0.
type pipeline struct {
	root       string
	installDir string
	assetsDir  string
	cfg        *config.Config
	repo       *state.FileRepository
	server     *httptest.Server
	manifest   *release.Manifest
	launcher   *launchRecorder
	hostDone   atomic.Bool
	results    chan *release.Result
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	root := t.TempDir()
	p := &pipeline{
		root:       root,
		installDir: filepath.Join(root, "app"),
		assetsDir:  filepath.Join(root, "assets"),
		launcher:   &launchRecorder{},
		results:    make(chan *release.Result, 1),
	}

	// Install the current version.
	writeFiles(t, p.installDir, map[string][]byte{
		appName:                   []byte(oldBinary),
		config.OrchestratorName:   []byte("orchestrator binary"),
		"config.json":             []byte(userSettings),
		"lib/codec.so":            []byte("codec v1"),
		"lib/legacy.so":           []byte("removed in 1.38"),
		"themes/dark/palette.css": []byte("body{background:#000}"),
	})

	// Create the signing key and trust its public half.
	pub, priv, err := signing.GenerateKey()
	require.NoError(t, err)

	keysFile := filepath.Join(root, "trusted-keys.pem")
	require.NoError(t, os.WriteFile(keysFile, signing.EncodePublicKey(pub), 0o644))

	// Serve the release host.
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/"+owner+"/"+repo+"/releases/latest", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(releases.Release{
			TagName:     "v" + newVersion,
			PublishedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
			Assets: []releases.Asset{
				{Name: appName + "-update.json", BrowserDownloadURL: p.server.URL + "/assets/" + appName + "-update.json"},
				{Name: archiveName(), BrowserDownloadURL: p.server.URL + "/assets/" + archiveName()},
			},
		})
	})
	mux.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(p.assetsDir))))

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	// Publish 1.38.0: signed executable, zipped, with a manifest.
	p.publish(t, priv, keysFile)

	p.cfg = &config.Config{
		AppName:         appName,
		Executable:      appName,
		InstallDir:      p.installDir,
		TrustedKeysFile: keysFile,
		UpdateRoot:      filepath.Join(root, "updates"),
		Release: config.ReleaseConfig{
			APIURL: p.server.URL,
			Owner:  owner,
			Repo:   repo,
		},
	}
	require.NoError(t, config.Validate(p.cfg))

	p.repo = state.NewFileRepository(p.cfg.StateFile())
	require.NoError(t, p.repo.Save(context.Background(), &release.InstallState{
		CurrentVersion: release.MustParseVersion("1.37.0"),
		InstallDir:     p.installDir,
	}))

	return p
}

func archiveName() string {
	return appName + "-" + newVersion + ".zip"
}

func (p *pipeline) publish(t *testing.T, priv ed25519.PrivateKey, keysFile string) {
	t.Helper()

	binary := []byte(newBinary)

	sig, err := signing.Sign(priv, binary, time.Now())
	require.NoError(t, err)

	sigData, err := sig.Marshal()
	require.NoError(t, err)

	archive := buildZip(t, map[string][]byte{
		appName + "/" + appName:                      binary,
		appName + "/" + appName + signing.FileSuffix: sigData,
		appName + "/" + config.OrchestratorName:      []byte("orchestrator binary"),
		appName + "/config.json":                     []byte(`{"token":""}`),
		appName + "/lib/codec.so":                    []byte("codec v2"),
		appName + "/lib/hevc.so":                     []byte("new codec"),
		appName + "/themes/dark/palette.css":         []byte("body{background:#111}"),
	})

	require.NoError(t, os.MkdirAll(p.assetsDir, 0o755))

	artifact := filepath.Join(p.assetsDir, archiveName())
	require.NoError(t, os.WriteFile(artifact, archive, 0o644))

	p.manifest, err = packager.Run(context.Background(), &packager.Options{
		Version:       newVersion,
		ArtifactPath:  artifact,
		DownloadURL:   p.server.URL + "/assets/" + archiveName(),
		PublicKeyFile: keysFile,
		Output:        filepath.Join(p.assetsDir, appName+"-update.json"),
	})
	require.NoError(t, err)
}

// corruptManifestHash flips one character of the published sha256.
func (p *pipeline) corruptManifestHash(t *testing.T) {
	t.Helper()

	path := filepath.Join(p.assetsDir, appName+"-update.json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	original := p.manifest.SHA256
	replacement := []byte(original)

	if replacement[10] == '0' {
		replacement[10] = '1'
	} else {
		replacement[10] = '0'
	}

	corrupted := bytes.Replace(data, []byte(original), replacement, 1)
	require.NotEqual(t, data, corrupted)
	require.NoError(t, os.WriteFile(path, corrupted, 0o644))
}

// manager wires the host side exactly like updater.NewFromConfig, except
// that the orchestrator runs in-process.
func (p *pipeline) manager(t *testing.T, options ...orchestrator.Option) *updater.Manager {
	t.Helper()

	keys, err := signing.LoadPublicKeys(p.cfg.TrustedKeysFile)
	require.NoError(t, err)

	client, err := releases.NewFromConfig(p.cfg)
	require.NoError(t, err)

	spawner := &inProcessSpawner{
		options: append([]orchestrator.Option{
			orchestrator.WithLauncher(p.launcher),
			orchestrator.WithSyncer(fsutil.NewMirror(fsutil.WithRetries(1, time.Millisecond))),
		}, options...),
		results:  p.results,
		hostDone: &p.hostDone,
	}

	coordinator := handoff.New(p.repo, filepath.Join(p.installDir, config.OrchestratorName), p.cfg.UpdateRoot,
		handoff.WithSpawner(spawner),
		handoff.WithPID(func() int { return hostPID }),
	)

	settings := updater.Settings{
		InstallDir:      p.installDir,
		Executable:      p.cfg.Executable,
		Preserve:        p.cfg.Preserve,
		LogFile:         p.cfg.LogFile(),
		LockFile:        p.cfg.LockFile(),
		DownloadTimeout: time.Minute,
	}

	return updater.New(
		client,
		verifier.New(client, keys, p.cfg.UpdateRoot, p.cfg.Executable, verifier.WithRetries(1, time.Millisecond)),
		coordinator,
		p.repo,
		settings,
		updater.WithHost(updater.Host{
			Persist: func(context.Context) error { return nil },
			Exit:    func() { p.hostDone.Store(true) },
		}),
	)
}

// update runs check and begin, returning every progress event.
func (p *pipeline) update(t *testing.T, manager *updater.Manager) []updater.Progress {
	t.Helper()

	info, err := manager.CheckForUpdate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, newVersion, info.Manifest.Version.String())

	progress, err := manager.BeginUpdate(context.Background(), info)
	require.NoError(t, err)

	var events []updater.Progress
	for event := range progress {
		events = append(events, event)
	}

	require.NotEmpty(t, events)

	return events
}

func (p *pipeline) orchestratorResult(t *testing.T) *release.Result {
	t.Helper()

	select {
	case result := <-p.results:
		return result
	case <-time.After(10 * time.Second):
		require.FailNow(t, "orchestrator did not finish")

		return nil
	}
}

func (p *pipeline) installState(t *testing.T) *release.InstallState {
	t.Helper()

	installed, err := p.repo.Load(context.Background())
	require.NoError(t, err)

	return installed
}

func (p *pipeline) snapshot(t *testing.T) map[string]string {
	t.Helper()

	snapshot, err := fsutil.Snapshot(p.installDir)
	require.NoError(t, err)

	return snapshot
}

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	writer := zip.NewWriter(&buf)

	for name, contents := range files {
		entry, err := writer.Create(name)
		require.NoError(t, err)

		_, err = entry.Write(contents)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return buf.Bytes()
}

func writeFiles(t *testing.T, root string, files map[string][]byte) {
	t.Helper()

	for name, contents := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, contents, 0o644))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func listDir(t *testing.T, path string) []string {
	t.Helper()

	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}
