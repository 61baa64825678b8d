package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/app-updater/internal/service/packager"
)

var (
	// manifestOptions collects the flags of the manifest command.
	manifestOptions packager.Options

	manifestCmd = &cobra.Command{
		Use:   "manifest",
		Short: "Build the release manifest published next to the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := packager.Run(cmd.Context(), &manifestOptions)

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := manifestCmd.Flags()
	flags.StringVar(&manifestOptions.Version, "version", "", "release version, with or without the v prefix")
	flags.StringVar(&manifestOptions.ArtifactPath, "artifact", "", "release archive; its SHA-256 is computed")
	flags.StringVar(&manifestOptions.AssetName, "asset-name", "", "archive name on the release (default: artifact file name)")
	flags.StringVar(&manifestOptions.DownloadURL, "download-url", "", "absolute URL of the archive")
	flags.StringVar(&manifestOptions.SHA256, "sha256", "", "archive checksum when --artifact is not available")
	flags.StringVar(&manifestOptions.PublishedAt, "published-at", "", "RFC 3339 publish time (default: now)")
	flags.StringVar(&manifestOptions.NotesFile, "notes-file", "", "markdown release notes")
	flags.StringVar(&manifestOptions.SigningThumbprint, "signing-thumbprint", "", "thumbprint of the signing key")
	flags.StringVar(&manifestOptions.PublicKeyFile, "public-key", "", "derive the thumbprint from this PEM public key")
	flags.StringVarP(&manifestOptions.Output, "output", "o", "", "where to write the manifest JSON")

	_ = manifestCmd.MarkFlagRequired("version")
	_ = manifestCmd.MarkFlagRequired("download-url")
	_ = manifestCmd.MarkFlagRequired("output")
}
