package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/fsutil"
	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/signing"
)

// DefaultFileMode is used for the published manifest.
const DefaultFileMode os.FileMode = 0o644

var (
	// errChecksumConflict is returned when --sha256 disagrees with the artifact on disk.
	errChecksumConflict = errors.New("sha256 does not match the artifact")
	// errNoChecksum is returned when neither a checksum nor an artifact is given.
	errNoChecksum = errors.New("either sha256 or artifact must be provided")
	// errOutputRequired is returned when no output path is given.
	errOutputRequired = errors.New("output path must be provided")
)

// Options contains inputs for the manifest builder.
type Options struct {
	// Version is the release version, with or without the "v" prefix.
	Version string
	// AssetName is the archive name attached to the release. Defaults to the artifact file name.
	AssetName string
	// DownloadURL is the absolute URL of the archive.
	DownloadURL string
	// SHA256 is the archive checksum in hex.
	SHA256 string
	// ArtifactPath is the archive on disk; its checksum is computed when SHA256 is empty.
	ArtifactPath string
	// PublishedAt is an RFC 3339 timestamp. Defaults to now.
	PublishedAt string
	// NotesFile is a markdown file with release notes.
	NotesFile string
	// SigningThumbprint pins the key that signed the executable.
	SigningThumbprint string
	// PublicKeyFile derives SigningThumbprint from the first key of a PEM bundle.
	PublicKeyFile string
	// Output is where the manifest JSON is written.
	Output string
}

// Run builds the manifest and writes it to opts.Output.
func Run(ctx context.Context, opts *Options) (*release.Manifest, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "manifest-builder")

	if opts.Output == "" {
		return nil, errOutputRequired
	}

	input, err := prepareInput(ctx, opts)
	if err != nil {
		return nil, err
	}

	manifest, err := release.BuildManifest(*input)
	if err != nil {
		return nil, err
	}

	contents, err := manifest.Marshal()
	if err != nil {
		return nil, err
	}

	if err = fsutil.WriteFileAtomic(filepath.Clean(opts.Output), contents, DefaultFileMode); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	logger.InfoKV(ctx, "Manifest written",
		"path", opts.Output, "version", manifest.Version.String(), "sha256", manifest.SHA256)

	printNextSteps(ctx, manifest, opts.Output)

	return manifest, nil
}

// prepareInput resolves defaults and derived values of the options.
func prepareInput(ctx context.Context, opts *Options) (*release.ManifestInput, error) {
	input := &release.ManifestInput{
		Version:           opts.Version,
		AssetName:         opts.AssetName,
		DownloadURL:       opts.DownloadURL,
		SHA256:            opts.SHA256,
		SigningThumbprint: opts.SigningThumbprint,
	}

	if opts.ArtifactPath != "" {
		sum, err := fsutil.HashFile(opts.ArtifactPath)
		if err != nil {
			return nil, fmt.Errorf("hash artifact: %w", err)
		}

		if input.SHA256 != "" && !strings.EqualFold(strings.TrimSpace(input.SHA256), sum) {
			return nil, fmt.Errorf("%s: %w", opts.ArtifactPath, errChecksumConflict)
		}

		input.SHA256 = sum

		if input.AssetName == "" {
			input.AssetName = filepath.Base(opts.ArtifactPath)
		}

		logger.DebugKV(ctx, "Computed artifact checksum", "path", opts.ArtifactPath, "sha256", sum)
	}

	if input.SHA256 == "" {
		return nil, errNoChecksum
	}

	if opts.PublishedAt != "" {
		publishedAt, err := time.Parse(time.RFC3339, opts.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: published_at: %w", release.ErrManifestMalformed, err)
		}

		input.PublishedAt = publishedAt
	}

	if opts.NotesFile != "" {
		notes, err := os.ReadFile(filepath.Clean(opts.NotesFile))
		if err != nil {
			return nil, fmt.Errorf("read notes: %w", err)
		}

		input.Notes = string(notes)
	}

	if input.SigningThumbprint == "" && opts.PublicKeyFile != "" {
		keys, err := signing.LoadPublicKeys(opts.PublicKeyFile)
		if err != nil {
			return nil, err
		}

		input.SigningThumbprint = signing.Thumbprint(keys[0])
	}

	return input, nil
}

// printNextSteps logs human-readable guidance for publishing the release.
func printNextSteps(ctx context.Context, manifest *release.Manifest, output string) {
	var builder strings.Builder

	builder.WriteString("Attach the following files to the release tagged ")
	builder.WriteString(manifest.Version.Tag())
	builder.WriteString(":\n")
	builder.WriteString(manifest.AssetName)
	builder.WriteString(",\n")
	builder.WriteString(filepath.Base(output))

	if manifest.SigningThumbprint == "" {
		builder.WriteString("\nThe manifest does not pin a signing key: any trusted key will be accepted.")
	}

	logger.Info(ctx, builder.String())
}
