package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Ask the release host whether a newer version exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, manager, err := loadManager()
		if err != nil {
			return err
		}

		info, err := manager.CheckForUpdate(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if info == nil {
			_, err = fmt.Fprintf(out, "up to date: %s\n", manager.CurrentVersion())

			return err
		}

		_, err = fmt.Fprintf(out, "update available: %s -> %s (%s)\n",
			info.Current, info.Manifest.Version, info.ReleaseTag)
		if err == nil && info.Manifest.Notes != "" {
			_, err = fmt.Fprintf(out, "\n%s\n", info.Manifest.Notes)
		}

		return err
	},
}
