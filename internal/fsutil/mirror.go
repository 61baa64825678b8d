package fsutil

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goupdate "github.com/doitdistributed/go-update"
)

const (
	// DefaultRetries is how many times a failed file operation is retried.
	DefaultRetries = 3
	// DefaultRetryDelay is the pause between retries.
	DefaultRetryDelay = 200 * time.Millisecond

	// goupdate leaves ".<name>.old" behind when it cannot delete the replaced file.
	leftoverSuffix = ".old"
)

var errNotDirectory = errors.New("not a directory")

// Mirror copies directory trees.
type Mirror struct {
	retries    uint64
	retryDelay time.Duration
	beforeCopy func(rel string) error
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithRetries sets the retry budget for each file operation.
func WithRetries(retries uint64, delay time.Duration) Option {
	return func(m *Mirror) {
		m.retries = retries
		m.retryDelay = delay
	}
}

// WithBeforeCopy registers a hook called before each file is copied, with the
// file path relative to the source root. A hook error aborts the copy without
// retrying.
func WithBeforeCopy(hook func(rel string) error) Option {
	return func(m *Mirror) {
		m.beforeCopy = hook
	}
}

// NewMirror creates a Mirror with default retries.
func NewMirror(opts ...Option) *Mirror {
	m := &Mirror{
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Sync makes dst an exact copy of src. dst is created when missing.
// It is idempotent: running it again after a failure converges on the same result.
func (m *Mirror) Sync(ctx context.Context, src, dst string) error {
	if err := requireDir(src); err != nil {
		return err
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if err := m.purgeExtras(ctx, src, dst); err != nil {
		return err
	}

	if err := m.Copy(ctx, src, dst); err != nil {
		return err
	}

	m.removeLeftovers(src, dst)

	return nil
}

// Copy copies every entry of src into dst without deleting anything in dst.
func (m *Mirror) Copy(ctx context.Context, src, dst string) error {
	if err := requireDir(src); err != nil {
		return err
	}

	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		info, err := entry.Info()
		if err != nil {
			return err
		}

		switch {
		case entry.IsDir():
			return m.retry(ctx, func() error {
				return makeDir(target, info.Mode().Perm())
			})
		case info.Mode()&fs.ModeSymlink != 0:
			return m.retry(ctx, func() error {
				return copySymlink(path, target)
			})
		case info.Mode().IsRegular():
			if m.beforeCopy != nil {
				if err = m.beforeCopy(filepath.ToSlash(rel)); err != nil {
					return fmt.Errorf("copy %s: %w", rel, err)
				}
			}

			return m.retry(ctx, func() error {
				return CopyFile(path, target)
			})
		default:
			// Sockets, devices and pipes have no place in an install directory.
			return nil
		}
	})
}

// Purge deletes everything inside dir but keeps dir itself.
func (m *Mirror) Purge(ctx context.Context, dir string) error {
	if err := requireDir(dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if err = m.retry(ctx, func() error { return os.RemoveAll(path) }); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	return nil
}

// purgeExtras removes entries of dst that are absent from src or have another type there.
func (m *Mirror) purgeExtras(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(dst, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if path == dst {
			return nil
		}

		rel, err := filepath.Rel(dst, path)
		if err != nil {
			return err
		}

		srcInfo, err := os.Lstat(filepath.Join(src, rel))

		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return err
		case sameKind(srcInfo.Mode(), entry.Type()):
			return nil
		}

		if err = m.retry(ctx, func() error { return os.RemoveAll(path) }); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}

		if entry.IsDir() {
			return filepath.SkipDir
		}

		return nil
	})
}

// removeLeftovers deletes go-update backups that are not part of src.
// Failures are ignored: on Windows a replaced running binary cannot be removed
// and go-update hides it instead.
func (m *Mirror) removeLeftovers(src, dst string) {
	_ = filepath.WalkDir(dst, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil || entry.IsDir() {
			return nil //nolint:nilerr // Best effort.
		}

		name := entry.Name()
		if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, leftoverSuffix) {
			return nil
		}

		rel, err := filepath.Rel(dst, path)
		if err != nil {
			return nil //nolint:nilerr // Best effort.
		}

		if _, err = os.Lstat(filepath.Join(src, rel)); errors.Is(err, fs.ErrNotExist) {
			_ = os.Remove(path)
		}

		return nil
	})
}

func (m *Mirror) retry(ctx context.Context, operation func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), m.retries),
		ctx,
	)

	return backoff.Retry(operation, policy)
}

// CopyFile replaces dst with the contents, permissions and modification time
// of src. The write goes through go-update, which verifies the SHA-256 of the
// written data and swaps the file in with a rename.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return err
	}

	if err = ensurePlaceholder(dst); err != nil {
		return err
	}

	sum := sha256.Sum256(data)

	options := goupdate.Options{
		TargetPath: dst,
		TargetMode: info.Mode().Perm(),
		Checksum:   sum[:],
		Hash:       crypto.SHA256,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("apply %s: %w", dst, err)
	}

	// go-update creates the file with TargetMode filtered by umask.
	if err = os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// ensurePlaceholder makes sure dst is an existing regular file, since
// go-update renames the current target away before moving the new one in.
func ensurePlaceholder(dst string) error {
	info, err := os.Lstat(dst)

	switch {
	case err == nil && info.Mode().IsRegular():
		return nil
	case err == nil:
		if err = os.RemoveAll(dst); err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	placeholder, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	return placeholder.Close()
}

func makeDir(path string, perm fs.FileMode) error {
	info, err := os.Lstat(path)
	if err == nil && !info.IsDir() {
		if err = os.Remove(path); err != nil {
			return err
		}
	}

	if err = os.MkdirAll(path, perm|0o700); err != nil {
		return err
	}

	return os.Chmod(path, perm|0o700)
}

func copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return err
	}

	if err = os.RemoveAll(dst); err != nil {
		return err
	}

	return os.Symlink(link, dst)
}

func sameKind(srcMode fs.FileMode, dstType fs.FileMode) bool {
	return srcMode.Type() == dstType.Type()
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: %w", path, errNotDirectory)
	}

	return nil
}
