package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/fsutil"
	"github.com/oshokin/app-updater/internal/logger"
)

// restoreConfig copies the preserved settings files from the backup into the
// install directory. Files absent from the backup are skipped. A failure does
// not undo the swap; it is recorded as a config reset warning.
func (r *runner) restoreConfig(ctx context.Context) {
	var result *multierror.Error

	for _, name := range r.opts.Preserve {
		restored, err := restoreFile(r.opts.BackupDir, r.opts.InstallDir, name)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))

			continue
		}

		if restored {
			logger.InfoKV(ctx, "Settings restored", "file", name)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		err = fmt.Errorf("%w: %w", release.ErrConfigRestoreFailed, err)

		logger.WarnKV(ctx, "Settings could not be restored and may have been reset", "error", err)

		r.result.ConfigReset = true
		r.appendError(err)
	}
}

func restoreFile(backupDir, installDir, name string) (bool, error) {
	rel := filepath.FromSlash(name)

	src := filepath.Join(backupDir, rel)

	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !info.Mode().IsRegular() {
		return false, nil
	}

	dst := filepath.Join(installDir, rel)

	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}

	if err = fsutil.CopyFile(src, dst); err != nil {
		return false, err
	}

	return true, nil
}
