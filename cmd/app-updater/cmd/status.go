package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/app-updater/internal/domain/release"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the installed version and the result of the last update",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, manager, err := loadManager()
		if err != nil {
			return err
		}

		installed, err := manager.Status(cmd.Context())
		if err != nil {
			return err
		}

		return printStatus(cmd.OutOrStdout(), installed)
	},
}

func printStatus(out io.Writer, installed *release.InstallState) error {
	lines := []string{
		"version: " + installed.CurrentVersion.String(),
		"install dir: " + installed.InstallDir,
		"last check: " + formatTime(installed.LastCheckTimestamp),
	}

	if pending := installed.PendingUpdate; pending != nil {
		lines = append(lines, fmt.Sprintf("pending: %s (attempt %s, requested %s)",
			pending.Version, pending.AttemptID, formatTime(pending.RequestedAt)))
	}

	if result := installed.LastResult; result != nil {
		line := fmt.Sprintf("last result: %s, exit code %d, version %s, at %s",
			result.Outcome, result.ExitCode, result.Version, formatTime(result.FinishedAt))
		if result.ConfigReset {
			line += ", settings were reset"
		}

		lines = append(lines, line)

		if result.Error != "" {
			lines = append(lines, "last error: "+result.Error)
		}
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return t.Local().Format(time.RFC3339)
}
