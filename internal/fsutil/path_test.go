package fsutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWithin checks containment of cleaned paths.
func TestWithin(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	install := filepath.Join(root, "app")

	tests := []struct {
		name   string
		path   string
		within bool
	}{
		{name: "same directory", path: install, within: true},
		{name: "same directory unclean", path: filepath.Join(install, "lib", ".."), within: true},
		{name: "nested", path: filepath.Join(install, "updates", "backup"), within: true},
		{name: "dotted child", path: filepath.Join(install, "..cache"), within: true},
		{name: "sibling", path: filepath.Join(root, "updates"), within: false},
		{name: "sibling with common prefix", path: filepath.Join(root, "app-updates"), within: false},
		{name: "parent", path: root, within: false},
		{name: "escape", path: filepath.Join(install, "..", "victim"), within: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.within, Within(install, tt.path))
		})
	}
}

// TestOverlap is symmetric.
func TestOverlap(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	install := filepath.Join(root, "app")

	require.True(t, Overlap(install, filepath.Join(install, "backup")))
	require.True(t, Overlap(filepath.Join(install, "backup"), install))
	require.True(t, Overlap(root, install))
	require.False(t, Overlap(install, filepath.Join(root, "backup")))
}
