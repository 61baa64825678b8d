package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/app-updater/internal/domain/release"
)

// fakeGit answers `git tag` and `git log` from memory.
type fakeGit struct {
	tags    []string
	commits []Commit
	logArgs []string
	err     error
}

func (g *fakeGit) Run(_ context.Context, args ...string) (string, error) {
	if g.err != nil {
		return "", g.err
	}

	switch args[0] {
	case "tag":
		return strings.Join(g.tags, "\n"), nil
	case "log":
		g.logArgs = args

		var builder strings.Builder
		for _, c := range g.commits {
			builder.WriteString(c.Subject + fieldSeparator + c.Body + recordSeparator + "\n")
		}

		return builder.String(), nil
	default:
		return "", errors.New("unexpected git command " + args[0])
	}
}

// TestClassify covers each category and the precedence between them.
func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		commit Commit
		want   Category
	}{
		{Commit{Subject: "feat!: drop legacy settings"}, CategoryBreaking},
		{Commit{Subject: "feat: queue", Body: "BREAKING CHANGE: queue format"}, CategoryBreaking},
		{Commit{Subject: "feat(player): gapless playback"}, CategoryFeature},
		{Commit{Subject: "Add feature flags"}, CategoryFeature},
		{Commit{Subject: "fix: crash on resume"}, CategoryFix},
		{Commit{Subject: "Handle bug in login"}, CategoryFix},
		{Commit{Subject: "chore: bump deps"}, CategoryOther},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, Classify(tt.commit), tt.commit.Subject)
	}
}

// TestDetectBump picks the most significant bump.
func TestDetectBump(t *testing.T) {
	t.Parallel()

	require.Equal(t, release.BumpPatch, DetectBump(nil))
	require.Equal(t, release.BumpPatch, DetectBump([]Commit{{Subject: "docs: typo"}}))
	require.Equal(t, release.BumpMinor, DetectBump([]Commit{{Subject: "fix: a"}, {Subject: "feat: b"}}))
	require.Equal(t, release.BumpMajor, DetectBump([]Commit{{Subject: "feat: b"}, {Subject: "refactor!: c"}}))
}

// TestNextAlwaysGreater checks that every resolution exceeds its input.
func TestNextAlwaysGreater(t *testing.T) {
	t.Parallel()

	floor := release.MustParseVersion("1.38.0")

	for _, current := range []string{"0.0.0", "1.4.2", "1.37.9", "1.38.0", "1.38.5", "2.0.0"} {
		for _, bump := range []release.Bump{release.BumpMajor, release.BumpMinor, release.BumpPatch} {
			base := release.MustParseVersion(current)

			for _, f := range []*release.Version{nil, &floor} {
				next, err := Next(base, bump, f)
				require.NoError(t, err)
				require.True(t, base.Less(next), "%s %s -> %s", base, bump, next)

				if f != nil {
					require.False(t, next.Less(*f))
				}
			}
		}
	}

	_, err := Next(release.MustParseVersion("1.0.0"), "sideways", nil)
	require.ErrorIs(t, err, release.ErrResolution)
}

// TestResolveFromTags uses the latest semver tag and the commits after it.
func TestResolveFromTags(t *testing.T) {
	t.Parallel()

	git := &fakeGit{
		tags: []string{"v1.9.0", "v1.37.0", "nightly", "v1.36.4", "v2.0.0-rc1"},
		commits: []Commit{
			{Subject: "feat: smart playlists"},
			{Subject: "fix: subtitle offset"},
			{Subject: "ci: cache modules"},
		},
	}

	result, err := New(git).Resolve(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, "v1.37.0", result.LastTag)
	require.Equal(t, "1.37.0", result.Current.String())
	require.Equal(t, release.BumpMinor, result.Bump)
	require.Equal(t, "1.38.0", result.Next.String())
	require.Equal(t, []string{"log", "v1.37.0..HEAD", "--pretty=format:%s%x1f%b%x1e"}, git.logArgs)
	require.Equal(t,
		"## Features\n- feat: smart playlists\n\n## Fixes\n- fix: subtitle offset\n\n## Other\n- ci: cache modules\n",
		result.Notes)
}

// TestResolveOverrides covers explicit current, bump and floor.
func TestResolveOverrides(t *testing.T) {
	t.Parallel()

	git := &fakeGit{}

	result, err := New(git).Resolve(context.Background(), Options{})
	require.NoError(t, err)
	require.Empty(t, result.LastTag)
	require.Equal(t, "0.0.1", result.Next.String())
	require.Equal(t, []string{"log", "HEAD", "--pretty=format:%s%x1f%b%x1e"}, git.logArgs)

	result, err = New(git).Resolve(context.Background(), Options{Current: "1.4.2", Bump: "major"})
	require.NoError(t, err)
	require.Equal(t, "2.0.0", result.Next.String())

	result, err = New(git).Resolve(context.Background(), Options{Current: "1.4.2", MinVersion: "1.38.0"})
	require.NoError(t, err)
	require.Equal(t, "1.38.0", result.Next.String())

	_, err = New(git).Resolve(context.Background(), Options{Current: "banana"})
	require.ErrorIs(t, err, release.ErrResolution)

	_, err = New(&fakeGit{err: errors.New("not a git repository")}).Resolve(context.Background(), Options{})
	require.ErrorIs(t, err, release.ErrResolution)
}

// TestUpdateVersionFile rewrites the assignment and keeps everything else.
func TestUpdateVersionFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "version.go")
	original := "package version\n\nvar (\n\tVersion = \"1.37.0\"\n\tCommit  = \"none\"\n)\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	require.NoError(t, UpdateVersionFile(path, release.MustParseVersion("1.38.0")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strings.Replace(original, "1.37.0", "1.38.0", 1), string(data))

	current, err := ReadVersionFile(path)
	require.NoError(t, err)
	require.Equal(t, "1.38.0", current.String())

	other := filepath.Join(t.TempDir(), "other.go")
	require.NoError(t, os.WriteFile(other, []byte("package other\n"), 0o644))
	require.ErrorIs(t, UpdateVersionFile(other, release.MustParseVersion("1.0.0")), release.ErrResolution)

	_, err = ReadVersionFile(other)
	require.ErrorIs(t, err, release.ErrResolution)
}
