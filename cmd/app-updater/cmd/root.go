package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/app-updater/internal/config"
	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/service/updater"
	"github.com/oshokin/app-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// rootCmd drives the updater the way the application does.
	rootCmd = &cobra.Command{
		Use:           "app-updater",
		Short:         "Check for, download and install application updates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the app-updater CLI and exits with non-zero status on error.
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

// loadManager reads the settings, applies the log level and wires a Manager.
func loadManager(opts ...updater.Option) (*config.Config, *updater.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if cfg.LogLevel != "" {
		level, ok := logger.ParseLogLevel(cfg.LogLevel)
		if !ok {
			return nil, nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
		}

		logger.SetLevel(level)
	}

	manager, err := updater.NewFromConfig(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	return cfg, manager, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")

	rootCmd.AddCommand(checkCmd, applyCmd, watchCmd, statusCmd)
}
