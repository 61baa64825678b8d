package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/fsutil"
	"github.com/oshokin/app-updater/internal/logger"
)

// versionAssignment matches `Version = "x.y.z"` in a Go source file.
var versionAssignment = regexp.MustCompile(`(\bVersion\s*=\s*")([^"]*)(")`)

// Options are the inputs of a resolution.
type Options struct {
	// Current overrides the version read from the latest tag.
	Current string
	// Bump forces a bump kind instead of detecting it from commits.
	Bump string
	// MinVersion lifts the result to at least this version.
	MinVersion string
}

// Result is the outcome of a resolution.
type Result struct {
	Current release.Version
	Next    release.Version
	Bump    release.Bump
	LastTag string
	Commits []Commit
	Notes   string
}

// Resolver computes next versions from a git history.
type Resolver struct {
	git Git
}

// New creates a Resolver reading history through git.
func New(git Git) *Resolver {
	return &Resolver{git: git}
}

// Resolve reads tags and commits and computes the next version.
func (r *Resolver) Resolve(ctx context.Context, opts Options) (*Result, error) {
	lastTag, tagVersion, err := LatestTag(ctx, r.git)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", release.ErrResolution, err)
	}

	current := tagVersion
	if opts.Current != "" {
		current, err = release.ParseVersion(opts.Current)
		if err != nil {
			return nil, fmt.Errorf("%w: current version: %w", release.ErrResolution, err)
		}
	}

	commits, err := CommitsSince(ctx, r.git, lastTag)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", release.ErrResolution, err)
	}

	bump := DetectBump(commits)
	if opts.Bump != "" {
		bump, err = release.ParseBump(opts.Bump)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", release.ErrResolution, err)
		}
	}

	var floor *release.Version

	if opts.MinVersion != "" {
		minVersion, parseErr := release.ParseVersion(opts.MinVersion)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: minimum version: %w", release.ErrResolution, parseErr)
		}

		floor = &minVersion
	}

	next, err := Next(current, bump, floor)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Resolved next version",
		"last_tag", lastTag, "current", current.String(), "bump", string(bump), "next", next.String(),
		"commits", len(commits))

	return &Result{
		Current: current,
		Next:    next,
		Bump:    bump,
		LastTag: lastTag,
		Commits: commits,
		Notes:   RenderNotes(commits),
	}, nil
}

// Next bumps current and lifts the result to floor when it is lower.
// The result is guaranteed to be strictly greater than current.
func Next(current release.Version, bump release.Bump, floor *release.Version) (release.Version, error) {
	next, err := current.Bump(bump)
	if err != nil {
		return release.Version{}, fmt.Errorf("%w: %w", release.ErrResolution, err)
	}

	if floor != nil && next.Less(*floor) {
		next = *floor
	}

	if !current.Less(next) {
		return release.Version{}, fmt.Errorf("%w: next version %s does not exceed %s",
			release.ErrResolution, next, current)
	}

	return next, nil
}

// UpdateVersionFile rewrites the `Version = "..."` assignment in path.
// The file is replaced atomically and keeps its permissions.
func UpdateVersionFile(path string, next release.Version) error {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat version file: %w", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read version file: %w", err)
	}

	if !versionAssignment.Match(contents) {
		return fmt.Errorf("%w: no Version assignment in %s", release.ErrResolution, path)
	}

	updated := versionAssignment.ReplaceAll(contents, []byte("${1}"+next.String()+"${3}"))

	if err = fsutil.WriteFileAtomic(path, updated, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write version file: %w", err)
	}

	return nil
}

// ReadVersionFile returns the version assigned in a `Version = "..."` line.
func ReadVersionFile(path string) (release.Version, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return release.Version{}, fmt.Errorf("read version file: %w", err)
	}

	match := versionAssignment.FindSubmatch(contents)
	if match == nil {
		return release.Version{}, fmt.Errorf("%w: no Version assignment in %s", release.ErrResolution, path)
	}

	current, err := release.ParseVersion(string(match[2]))
	if err != nil {
		return release.Version{}, fmt.Errorf("%w: %s: %w", release.ErrResolution, path, err)
	}

	return current, nil
}
