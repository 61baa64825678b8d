package resolver

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/fsutil"
	"github.com/oshokin/app-updater/internal/logger"
)

// notesFileMode is used for generated release notes.
const notesFileMode = 0o644

// CommandOptions are the inputs of `release-tool compute`.
type CommandOptions struct {
	// RepoDir is the git work tree. Empty means the current directory.
	RepoDir string
	// Git overrides the git runner built from RepoDir.
	Git Git
	// VersionFile holds the `Version = "..."` assignment.
	VersionFile string
	// Apply writes the next version back into VersionFile.
	Apply bool
	// NotesFile receives the generated release notes.
	NotesFile string
	// Current overrides the current version.
	Current string
	// Bump overrides the auto-detected bump kind.
	Bump string
	// MinVersion is a floor for the next version.
	MinVersion string
}

// Run resolves the next version, optionally applies it and prints the result
// as KEY=value lines that CI steps can source.
func Run(ctx context.Context, opts *CommandOptions, out io.Writer) (*Result, error) {
	ctx = logger.WithName(ctx, "version-resolver")

	git := opts.Git
	if git == nil {
		git = ExecGit{Dir: opts.RepoDir}
	}

	resolveOpts := Options{
		Current:    opts.Current,
		Bump:       opts.Bump,
		MinVersion: opts.MinVersion,
	}

	if resolveOpts.Current == "" && opts.VersionFile != "" {
		current, err := ReadVersionFile(opts.VersionFile)
		if err != nil {
			return nil, err
		}

		resolveOpts.Current = current.String()
	}

	result, err := New(git).Resolve(ctx, resolveOpts)
	if err != nil {
		return nil, err
	}

	if opts.Apply {
		if opts.VersionFile == "" {
			return nil, fmt.Errorf("%w: --apply needs a version file", release.ErrResolution)
		}

		if err = UpdateVersionFile(opts.VersionFile, result.Next); err != nil {
			return nil, err
		}

		logger.InfoKV(ctx, "Version file updated", "path", opts.VersionFile, "version", result.Next.String())
	}

	if opts.NotesFile != "" {
		if err = fsutil.WriteFileAtomic(filepath.Clean(opts.NotesFile), []byte(result.Notes), notesFileMode); err != nil {
			return nil, fmt.Errorf("write release notes: %w", err)
		}
	}

	_, err = fmt.Fprintf(out, "NEXT_VERSION=%s\nNEXT_TAG=%s\nLAST_TAG=%s\nBUMP=%s\n",
		result.Next.String(), result.Next.Tag(), result.LastTag, result.Bump)
	if err != nil {
		return nil, err
	}

	return result, nil
}
