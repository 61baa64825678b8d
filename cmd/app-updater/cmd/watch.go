package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/service/checker"
	"github.com/oshokin/app-updater/internal/service/updater"
)

// watchApply installs updates as soon as they are found.
var watchApply bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check for updates periodically",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// A successful handoff ends the watch so the swap can start.
		cfg, manager, err := loadManager(updater.WithHost(updater.Host{Exit: cancel}))
		if err != nil {
			return err
		}

		return checker.Run(ctx, manager, &checker.Options{
			Interval:  cfg.CheckInterval,
			Immediate: true,
			OnUpdate: func(ctx context.Context, info *release.UpdateInfo) {
				if !watchApply {
					return
				}

				if err := applyUpdate(ctx, manager, info, cmd.OutOrStdout()); err != nil {
					logger.ErrorKV(ctx, "Update failed", "error", err)
				}
			},
		})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	watchCmd.Flags().BoolVar(&watchApply, "apply", false, "install updates as soon as they are found")
}
