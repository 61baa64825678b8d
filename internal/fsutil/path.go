package fsutil

import (
	"path/filepath"
	"strings"
)

// Within reports whether path is parent itself or lies below it.
// Both paths are made absolute and cleaned; symlinks are not resolved.
func Within(parent, path string) bool {
	absParent, err := filepath.Abs(parent)
	if err != nil {
		return false
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(absParent, absPath)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// Overlap reports whether one of the two directories contains the other.
func Overlap(a, b string) bool {
	return Within(a, b) || Within(b, a)
}
