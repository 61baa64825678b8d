package verifier

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/fsutil"
	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/signing"
)

const (
	// DefaultRetries is how many times a failed download is retried.
	DefaultRetries = 3
	// DefaultRetryDelay is the initial pause between download attempts.
	DefaultRetryDelay = time.Second

	downloadsDir = "downloads"
	stagingDir   = "staging"
	backupDir    = "backup"
)

// Stage names a step of Verify, reported through the progress callback.
type Stage string

// Verification stages in execution order.
const (
	StageDownloading       Stage = "downloading"
	StageVerifying         Stage = "verifying"
	StageExtracting        Stage = "extracting"
	StageCheckingSignature Stage = "checking_signature"
)

var errNoTrustedKeys = errors.New("no trusted signing keys configured")

// Downloader streams a remote file into w.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Verifier stages verified releases under an update root.
type Verifier struct {
	downloader  Downloader
	trustedKeys []ed25519.PublicKey
	updateRoot  string
	executable  string

	retries    uint64
	retryDelay time.Duration
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithRetries sets the download retry budget.
func WithRetries(retries uint64, delay time.Duration) Option {
	return func(v *Verifier) {
		v.retries = retries
		v.retryDelay = delay
	}
}

// New creates a Verifier. executable is the application file name expected in the archive.
func New(
	downloader Downloader,
	trustedKeys []ed25519.PublicKey,
	updateRoot, executable string,
	opts ...Option,
) *Verifier {
	v := &Verifier{
		downloader:  downloader,
		trustedKeys: trustedKeys,
		updateRoot:  filepath.Clean(updateRoot),
		executable:  executable,
		retries:     DefaultRetries,
		retryDelay:  DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Verify downloads, hash-checks, extracts and signature-checks the release
// described by manifest. report, when not nil, is called as each stage starts.
// On failure every file created by this call is removed.
func (v *Verifier) Verify(
	ctx context.Context,
	manifest *release.Manifest,
	report func(Stage),
) (*release.StagedUpdate, error) {
	if report == nil {
		report = func(Stage) {}
	}

	staged := &release.StagedUpdate{
		AttemptID: uuid.New(),
		Manifest:  *manifest,
		Root:      filepath.Join(v.updateRoot, stagingDir, manifest.Version.String()),
		BackupDir: filepath.Join(v.updateRoot, backupDir, manifest.Version.String()),
	}

	ctx = logger.WithKV(ctx, "attempt", staged.AttemptID.String())

	if err := v.verify(ctx, staged, report); err != nil {
		if cleanupErr := Cleanup(staged, false); cleanupErr != nil {
			logger.WarnKV(ctx, "Failed to clean up rejected update", "error", cleanupErr)
		}

		logger.ErrorKV(ctx, "Update rejected", "version", manifest.Version.String(), "error", err)

		return nil, err
	}

	logger.InfoKV(ctx, "Update staged",
		"version", manifest.Version.String(), "staging_dir", staged.StagingDir)

	return staged, nil
}

func (v *Verifier) verify(ctx context.Context, staged *release.StagedUpdate, report func(Stage)) error {
	report(StageDownloading)

	archive, err := v.download(ctx, &staged.Manifest)
	if archive != "" {
		staged.DownloadedAssetPath = archive
	}

	if err != nil {
		return err
	}

	report(StageVerifying)

	if err = verifyChecksum(archive, staged.Manifest.SHA256); err != nil {
		return err
	}

	if err = ctx.Err(); err != nil {
		return err
	}

	report(StageExtracting)

	if err = extractZip(archive, staged.Root); err != nil {
		return err
	}

	appDir, err := findAppDir(staged.Root, v.executable)
	if err != nil {
		return err
	}

	staged.StagingDir = appDir

	report(StageCheckingSignature)

	return v.verifySignature(ctx, filepath.Join(appDir, v.executable), staged.Manifest.Pins())
}

// download fetches the asset into a unique file under the downloads directory.
func (v *Verifier) download(ctx context.Context, manifest *release.Manifest) (string, error) {
	dir := filepath.Join(v.updateRoot, downloadsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create downloads directory: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+"-"+filepath.Base(manifest.AssetName))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = v.retryDelay

	attempt := 0
	operation := func() error {
		attempt++

		if err := file.Truncate(0); err != nil {
			return backoff.Permanent(err)
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}

		written, err := v.downloader.Download(ctx, manifest.DownloadURL, file)
		if err != nil {
			logger.WarnKV(ctx, "Download attempt failed", "attempt", attempt, "error", err)

			return err
		}

		logger.InfoKV(ctx, "Downloaded update archive", "url", manifest.DownloadURL, "bytes", written)

		return nil
	}

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, v.retries), ctx))
	if err != nil {
		return path, fmt.Errorf("download %s: %w", manifest.AssetName, err)
	}

	if err = file.Sync(); err != nil {
		return path, fmt.Errorf("flush download: %w", err)
	}

	return path, nil
}

func (v *Verifier) verifySignature(ctx context.Context, executablePath string, pinned []string) error {
	if len(v.trustedKeys) == 0 {
		return fmt.Errorf("%w: %w", release.ErrSignatureInvalid, errNoTrustedKeys)
	}

	signer, err := signing.VerifyFile(v.trustedKeys, executablePath, pinned)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", release.ErrSignatureInvalid, filepath.Base(executablePath), err)
	}

	logger.InfoKV(ctx, "Executable signature verified", "signer", signer)

	return nil
}

func verifyChecksum(path, expected string) error {
	actual, err := fsutil.HashFile(path)
	if err != nil {
		return fmt.Errorf("hash download: %w", err)
	}

	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: expected %s, got %s", release.ErrHashMismatch, expected, actual)
	}

	return nil
}

// findAppDir returns root when it holds the executable, otherwise the single
// child directory that does.
func findAppDir(root, executable string) (string, error) {
	if isFile(filepath.Join(root, executable)) {
		return root, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", release.ErrArchiveInvalid, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		candidate := filepath.Join(root, entry.Name())
		if isFile(filepath.Join(candidate, executable)) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %s not found in the archive", release.ErrArchiveInvalid, executable)
}

func isFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

// Cleanup removes the files of a staged update. With keepStaging only the
// downloaded archive is removed, which is what happens right before handoff.
func Cleanup(staged *release.StagedUpdate, keepStaging bool) error {
	if staged == nil {
		return nil
	}

	var result *multierror.Error

	if staged.DownloadedAssetPath != "" {
		if err := os.Remove(staged.DownloadedAssetPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}

	if !keepStaging && staged.Root != "" {
		if err := os.RemoveAll(staged.Root); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}
