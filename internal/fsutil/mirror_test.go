package fsutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, contents := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}
}

func fastMirror(opts ...Option) *Mirror {
	return NewMirror(append([]Option{WithRetries(1, time.Millisecond)}, opts...)...)
}

// TestSyncMirrorsTree verifies that Sync copies new files, overwrites changed
// ones and deletes extras.
func TestSyncMirrorsTree(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	writeTree(t, src, map[string]string{
		"plexible":         "new binary",
		"lib/codec.so":     "codec v2",
		"themes/dark.json": `{"bg":"#000"}`,
		"empty.txt":        "",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(src, "plugins"), 0o755))

	writeTree(t, dst, map[string]string{
		"plexible":       "old binary",
		"lib/codec.so":   "codec v1",
		"lib/legacy.so":  "gone soon",
		"obsolete/a.txt": "gone soon",
		"themes":         "file where a directory should be",
	})

	modTime := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(src, "plexible"), modTime, modTime))
	require.NoError(t, os.Chmod(filepath.Join(src, "plexible"), 0o755))

	require.NoError(t, fastMirror().Sync(context.Background(), src, dst))
	require.NoError(t, Compare(src, dst))

	info, err := os.Stat(filepath.Join(dst, "plexible"))
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(modTime))
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	// Idempotent.
	require.NoError(t, fastMirror().Sync(context.Background(), src, dst))
	require.NoError(t, Compare(src, dst))
}

// TestSyncCreatesDestination covers a missing destination directory.
func TestSyncCreatesDestination(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "backup", "nested")

	writeTree(t, src, map[string]string{"config.json": `{"token":"abc"}`})

	require.NoError(t, fastMirror().Sync(context.Background(), src, dst))
	require.NoError(t, Compare(src, dst))
}

// TestSyncMissingSource fails without touching the destination.
func TestSyncMissingSource(t *testing.T) {
	t.Parallel()

	dst := t.TempDir()
	writeTree(t, dst, map[string]string{"keep.txt": "keep"})

	err := fastMirror().Sync(context.Background(), filepath.Join(t.TempDir(), "missing"), dst)
	require.Error(t, err)
	require.FileExists(t, filepath.Join(dst, "keep.txt"))
}

// TestCopyHookAbortsWithoutRetry checks that a hook failure stops the copy at once.
func TestCopyHookAbortsWithoutRetry(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	writeTree(t, src, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c", "d.txt": "d"})

	var (
		calls   int
		errDisk = errors.New("disk unplugged")
	)

	mirror := fastMirror(WithBeforeCopy(func(string) error {
		calls++
		if calls > 2 {
			return errDisk
		}

		return nil
	}))

	err := mirror.Copy(context.Background(), src, dst)
	require.ErrorIs(t, err, errDisk)
	require.Equal(t, 3, calls)

	copied, err := Snapshot(dst)
	require.NoError(t, err)
	require.Len(t, copied, 2)
}

// TestPurgeKeepsDirectory empties a directory but keeps it.
func TestPurgeKeepsDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.txt": "a", "nested/b.txt": "b"})

	require.NoError(t, fastMirror().Purge(context.Background(), dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestCopyFileReplacesContent verifies single-file replacement and leftovers cleanup.
func TestCopyFileReplacesContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.json")
	dst := filepath.Join(dir, "out", "dst.json")

	require.NoError(t, os.WriteFile(src, []byte(`{"volume":7}`), 0o600))
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.JSONEq(t, `{"volume":7}`, string(data))

	require.NoError(t, os.WriteFile(src, []byte(`{"volume":9}`), 0o600))
	require.NoError(t, CopyFile(src, dst))

	data, err = os.ReadFile(dst)
	require.NoError(t, err)
	require.JSONEq(t, `{"volume":9}`, string(data))
	require.NoFileExists(t, filepath.Join(dir, "out", ".dst.json.old"))
}

// TestCompareReportsDifferences names differing paths.
func TestCompareReportsDifferences(t *testing.T) {
	t.Parallel()

	a := t.TempDir()
	b := t.TempDir()

	writeTree(t, a, map[string]string{"same.txt": "x", "changed.txt": "1", "only-a.txt": "a"})
	writeTree(t, b, map[string]string{"same.txt": "x", "changed.txt": "2", "only-b.txt": "b"})

	err := Compare(a, b)
	require.ErrorIs(t, err, ErrTreesDiffer)
	require.Contains(t, err.Error(), "changed.txt")
	require.Contains(t, err.Error(), "only-a.txt")
	require.Contains(t, err.Error(), "only-b.txt")
	require.NotContains(t, err.Error(), "same.txt")

	sum, err := HashFile(filepath.Join(a, "same.txt"))
	require.NoError(t, err)
	require.Equal(t, "2d711642b726b04401627ca9fbac32f5c8530fb1903cc4db02258717921a4881", sum)
}
