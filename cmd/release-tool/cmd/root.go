package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/version"
)

var (
	// logLevel is the minimum level of printed log messages.
	logLevel string

	// rootCmd groups the publishing commands.
	rootCmd = &cobra.Command{
		Use:           "release-tool",
		Short:         "Compute versions, sign executables and build update manifests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
	}
)

// Execute runs the release-tool CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	err := rootCmd.ExecuteContext(ctx)

	stop()
	logger.Sync()

	if err != nil {
		logger.Error(ctx, err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(computeCmd, manifestCmd, keygenCmd, signCmd)
}
