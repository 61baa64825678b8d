package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/app-updater/internal/service/resolver"
)

var (
	// computeOptions collects the flags of the compute command.
	computeOptions resolver.CommandOptions

	computeCmd = &cobra.Command{
		Use:   "compute",
		Short: "Compute the next release version from git history",
		Long: "Compute the next release version from the latest v-prefixed tag and the conventional\n" +
			"commit subjects since it. Prints NEXT_VERSION, NEXT_TAG, LAST_TAG and BUMP lines.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := resolver.Run(cmd.Context(), &computeOptions, cmd.OutOrStdout())

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := computeCmd.Flags()
	flags.StringVar(&computeOptions.RepoDir, "repo", "", "git work tree (default: current directory)")
	flags.StringVar(&computeOptions.VersionFile, "version-file", "", "Go file with the Version assignment")
	flags.BoolVar(&computeOptions.Apply, "apply", false, "write the next version into --version-file")
	flags.StringVar(&computeOptions.NotesFile, "notes-file", "", "write markdown release notes to this file")
	flags.StringVar(&computeOptions.Current, "current", "", "current version (default: --version-file, then the latest tag)")
	flags.StringVar(&computeOptions.Bump, "bump", "", "force the bump kind: major, minor or patch")
	flags.StringVar(&computeOptions.MinVersion, "min-version", "", "lowest acceptable next version")
}
