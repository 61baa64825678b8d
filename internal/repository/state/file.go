package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oshokin/app-updater/internal/config"
	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/fsutil"
)

// Repository defines persistence operations for the local install state.
type Repository interface {
	Load(ctx context.Context) (*release.InstallState, error)
	Save(ctx context.Context, state *release.InstallState) error
	Update(ctx context.Context, mutate func(state *release.InstallState) error) (*release.InstallState, error)
}

// FileRepository persists the install state to a JSON file on disk.
// Writes go to a temporary file that is renamed over the target, so readers
// see either the previous record or the new one.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu serialises access within one process.
	mu sync.Mutex
}

// ErrNotFound is returned when the state file does not exist yet.
var ErrNotFound = errors.New("state not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the location of the state file.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the state from disk.
func (r *FileRepository) Load(_ context.Context) (*release.InstallState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load()
}

// Save writes the state to disk.
func (r *FileRepository) Save(_ context.Context, state *release.InstallState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.save(state)
}

// Update loads the state (or starts from an empty one), applies mutate and
// saves the result. Nothing is written when mutate fails.
func (r *FileRepository) Update(
	_ context.Context,
	mutate func(state *release.InstallState) error,
) (*release.InstallState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.load()

	switch {
	case errors.Is(err, ErrNotFound):
		current = new(release.InstallState)
	case err != nil:
		return nil, err
	}

	if err = mutate(current); err != nil {
		return nil, err
	}

	if err = r.save(current); err != nil {
		return nil, err
	}

	return current.Clone(), nil
}

func (r *FileRepository) load() (*release.InstallState, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state release.InstallState
	if err = json.Unmarshal(contents, &state); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return &state, nil
}

func (r *FileRepository) save(state *release.InstallState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = fsutil.WriteFileAtomic(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}
