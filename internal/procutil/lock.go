package procutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("another update is already running")

// Lock is a PID file marking that an update is in progress.
type Lock struct {
	path string
}

// AcquireLock creates the lock file at path and writes the current PID into it.
// A lock left behind by a process that no longer exists is taken over.
func AcquireLock(path string, alive func(int) (bool, error)) (*Lock, error) {
	if alive == nil {
		alive = Alive
	}

	path = filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := createLockFile(path)
		if err == nil {
			return &Lock{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		owner, readErr := readLockOwner(path)
		if readErr == nil && owner != os.Getpid() {
			running, aliveErr := alive(owner)
			if aliveErr != nil || running {
				return nil, fmt.Errorf("%w (pid %d)", ErrLocked, owner)
			}
		}

		// The owner is gone or the file is unreadable: the lock is stale.
		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	return nil, ErrLocked
}

// Path returns the location of the lock file.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}

	return nil
}

func createLockFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	_, writeErr := file.WriteString(strconv.Itoa(os.Getpid()))
	closeErr := file.Close()

	if writeErr != nil {
		return writeErr
	}

	return closeErr
}

func readLockOwner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(strings.TrimSpace(string(data)))
}
