package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/service/updater"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Download, verify and hand off the latest release",
	Long: "Download and verify the latest release, then start the swap orchestrator.\n" +
		"The orchestrator replaces the install directory once this process has exited.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		_, manager, err := loadManager(updater.WithHost(updater.Host{
			Exit: func() { logger.Info(ctx, "Exiting so that the update can be installed") },
		}))
		if err != nil {
			return err
		}

		info, err := manager.CheckForUpdate(ctx)
		if err != nil {
			return err
		}

		if info == nil {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "up to date: %s\n", manager.CurrentVersion())

			return err
		}

		return applyUpdate(ctx, manager, info, cmd.OutOrStdout())
	},
}

// applyUpdate begins the update and prints its progress until it ends.
func applyUpdate(ctx context.Context, manager *updater.Manager, info *release.UpdateInfo, out io.Writer) error {
	progress, err := manager.BeginUpdate(ctx, info)
	if err != nil {
		return err
	}

	var last updater.Progress

	for event := range progress {
		last = event

		if _, err = fmt.Fprintf(out, "%s %s\n", event.Version, event.Phase); err != nil {
			return err
		}
	}

	if last.Phase == updater.PhaseFailed {
		return last.Err
	}

	return nil
}
