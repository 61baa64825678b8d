package verifier

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/app-updater/internal/domain/release"
)

// maxEntrySize bounds a single decompressed file to stop zip bombs.
const maxEntrySize = 2 << 30

// extractZip unpacks archive into a freshly recreated target directory.
// Every entry is checked before anything is written, so an archive with an
// unsafe path leaves nothing behind.
func extractZip(archive, target string) error {
	reader, err := zip.OpenReader(archive)
	if reader != nil {
		defer func() {
			_ = reader.Close()
		}()
	}

	if err != nil {
		return fmt.Errorf("%w: open: %w", release.ErrArchiveInvalid, err)
	}

	for _, entry := range reader.File {
		if err = checkEntry(entry); err != nil {
			return err
		}
	}

	if err = os.RemoveAll(target); err != nil {
		return fmt.Errorf("reset staging directory: %w", err)
	}

	if err = os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	for _, entry := range reader.File {
		if err = extractEntry(entry, target); err != nil {
			return err
		}
	}

	return nil
}

// checkEntry rejects entries that would land outside the target or are not
// plain files and directories.
func checkEntry(entry *zip.File) error {
	name := strings.TrimSuffix(entry.Name, "/")
	if name == "" || strings.Contains(name, `\`) || !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("%w: unsafe path %q", release.ErrArchiveInvalid, entry.Name)
	}

	mode := entry.Mode()
	if !mode.IsDir() && !mode.IsRegular() {
		return fmt.Errorf("%w: unsupported entry type %q (%s)", release.ErrArchiveInvalid, entry.Name, mode.Type())
	}

	if entry.UncompressedSize64 > maxEntrySize {
		return fmt.Errorf("%w: %q is too large", release.ErrArchiveInvalid, entry.Name)
	}

	return nil
}

func extractEntry(entry *zip.File, target string) error {
	path := filepath.Join(target, filepath.FromSlash(strings.TrimSuffix(entry.Name, "/")))

	if entry.Mode().IsDir() {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", entry.Name, err)
		}

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", release.ErrArchiveInvalid, entry.Name, err)
	}

	defer func() {
		_ = src.Close()
	}()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode(entry.Mode()))
	if err != nil {
		return fmt.Errorf("create %s: %w", entry.Name, err)
	}

	_, copyErr := io.Copy(dst, io.LimitReader(src, maxEntrySize))
	closeErr := dst.Close()

	if copyErr != nil {
		return fmt.Errorf("%w: extract %s: %w", release.ErrArchiveInvalid, entry.Name, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("write %s: %w", entry.Name, closeErr)
	}

	if err = os.Chtimes(path, entry.Modified, entry.Modified); err != nil {
		return fmt.Errorf("set times of %s: %w", entry.Name, err)
	}

	return nil
}

// fileMode keeps the archived permissions but always lets the owner read and write.
func fileMode(mode fs.FileMode) fs.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		return 0o644
	}

	return perm | 0o600
}
