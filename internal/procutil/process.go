package procutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-ps"
)

var errIsDirectory = errors.New("is a directory")

// DefaultPollInterval is how often WaitExit checks the process table.
const DefaultPollInterval = time.Second

// Alive reports whether a process with the given PID exists.
func Alive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("find process %d: %w", pid, err)
	}

	return process != nil, nil
}

// WaitExit blocks until alive reports that pid is gone or ctx is done.
// There is no upper bound on the wait: the process is never killed.
// A failing probe is treated as "still alive" and polled again.
func WaitExit(ctx context.Context, pid int, interval time.Duration, alive func(int) (bool, error)) error {
	if alive == nil {
		alive = Alive
	}

	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		running, err := alive(pid)
		if err == nil && !running {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StartDetached starts name with args in dir as a process that outlives the
// caller, and returns its PID.
func StartDetached(name string, args []string, dir string) (int, error) {
	//nolint:gosec // The executable comes from our own install directory.
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", name, err)
	}

	pid := cmd.Process.Pid

	// The child is not waited for; drop our handle to it.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release %s: %w", name, err)
	}

	return pid, nil
}

// Launcher starts executables as detached processes.
type Launcher struct{}

// Launch starts path from its own directory without arguments.
func (Launcher) Launch(_ context.Context, path string) error {
	dir, err := workingDir(path)
	if err != nil {
		return err
	}

	_, err = StartDetached(path, nil, dir)

	return err
}

func workingDir(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		return "", fmt.Errorf("%s: %w", path, errIsDirectory)
	}

	return filepath.Dir(path), nil
}
