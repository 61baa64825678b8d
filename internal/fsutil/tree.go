package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrTreesDiffer is returned by Compare when two trees are not identical.
var ErrTreesDiffer = errors.New("directory trees differ")

// maxReportedDifferences caps the paths listed in a Compare error.
const maxReportedDifferences = 5

// Snapshot describes every entry of a tree by its slash-separated relative
// path. Files are described by permissions and content hash, symlinks by
// their target.
func Snapshot(root string) (map[string]string, error) {
	result := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		var description string

		switch {
		case entry.IsDir():
			description = "dir"
		case info.Mode()&fs.ModeSymlink != 0:
			target, linkErr := os.Readlink(path)
			if linkErr != nil {
				return linkErr
			}

			description = "link:" + target
		case info.Mode().IsRegular():
			sum, hashErr := HashFile(path)
			if hashErr != nil {
				return hashErr
			}

			description = fmt.Sprintf("file:%o:%s", info.Mode().Perm(), sum)
		default:
			return nil
		}

		result[filepath.ToSlash(rel)] = description

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Compare returns ErrTreesDiffer, naming the first few differing paths, when
// the two trees are not identical.
func Compare(a, b string) error {
	left, err := Snapshot(a)
	if err != nil {
		return err
	}

	right, err := Snapshot(b)
	if err != nil {
		return err
	}

	var diff []string

	for path, description := range left {
		if right[path] != description {
			diff = append(diff, path)
		}
	}

	for path := range right {
		if _, ok := left[path]; !ok {
			diff = append(diff, path)
		}
	}

	if len(diff) == 0 {
		return nil
	}

	sort.Strings(diff)

	if len(diff) > maxReportedDifferences {
		diff = append(diff[:maxReportedDifferences], "...")
	}

	return fmt.Errorf("%w: %s", ErrTreesDiffer, strings.Join(diff, ", "))
}

// HashFile returns the lowercase hex SHA-256 of a file.
func HashFile(path string) (string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
