package checker

import (
	"context"
	"time"

	"github.com/oshokin/app-updater/internal/config"
	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/logger"
)

// Source answers update checks. updater.Manager implements it.
type Source interface {
	CheckForUpdate(ctx context.Context) (*release.UpdateInfo, error)
	// InFlight reports whether an update attempt is running.
	InFlight() bool
}

// Options controls the polling behavior.
type Options struct {
	// Interval is the time between checks.
	Interval time.Duration
	// Immediate runs the first check right away instead of after Interval.
	Immediate bool
	// OnUpdate is called when a newer release is available and no attempt is running.
	OnUpdate func(ctx context.Context, info *release.UpdateInfo)
	// OnNoUpdate is called when the installation is up to date and no attempt is running.
	OnNoUpdate func(ctx context.Context)
}

// Run polls source until ctx is cancelled. Check failures are logged and the
// loop goes on. While an attempt is in flight every result is ignored: a
// later "no update" answer must not interfere with it.
func Run(ctx context.Context, source Source, opts *Options) error {
	ctx = logger.WithName(ctx, "update-checker")

	interval := opts.Interval
	if interval <= 0 {
		interval = config.DefaultCheckInterval
	}

	logger.InfoKV(ctx, "Polling for updates", "interval", interval.String())

	if opts.Immediate {
		check(ctx, source, opts)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			check(ctx, source, opts)
		}
	}
}

func check(ctx context.Context, source Source, opts *Options) {
	info, err := source.CheckForUpdate(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Update check failed", "error", err)
		return
	}

	if source.InFlight() {
		logger.Debug(ctx, "Update attempt in progress, ignoring check result")
		return
	}

	if info == nil {
		if opts.OnNoUpdate != nil {
			opts.OnNoUpdate(ctx)
		}

		return
	}

	logger.InfoKV(ctx, "Update available",
		"current", info.Current.String(), "latest", info.Manifest.Version.String())

	if opts.OnUpdate != nil {
		opts.OnUpdate(ctx, info)
	}
}
