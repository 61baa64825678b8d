package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/app-updater/internal/logger"
	"github.com/oshokin/app-updater/internal/service/orchestrator"
	"github.com/oshokin/app-updater/internal/version"
)

var (
	// options collects the positional arguments and flags of the swap.
	options orchestrator.Options
	// verifyBackup compares the backup with the install directory before mutating it.
	verifyBackup bool
	// exitCode is the process exit code chosen by the swap.
	exitCode = orchestrator.ExitSuccess

	// rootCmd swaps a staged release into place once the application has exited.
	rootCmd = &cobra.Command{
		Use:           "swap-orchestrator install_dir staging_dir backup_dir executable_name pid",
		Short:         "Replace the install directory with a staged release",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			exitCode = run(cmd.Context(), args)
		},
	}
)

// Execute runs the swap and exits with its exit code.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	// Signals only interrupt the wait for the application; once the backup
	// starts the orchestrator keeps the handler installed and ignores them.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	err := rootCmd.ExecuteContext(ctx)

	stop()
	logger.Sync()

	if err != nil {
		logger.Error(ctx, err)
		os.Exit(orchestrator.ExitMissingArgument)
	}

	os.Exit(exitCode)
}

func run(ctx context.Context, args []string) int {
	if err := options.ParsePositional(args); err != nil {
		logger.ErrorKV(ctx, "Invalid arguments", "error", err)

		return orchestrator.ExitMissingArgument
	}

	if options.LogFile != "" {
		fileLogger, err := logger.NewWithFile(logger.AtomicLevel(), options.LogFile)
		if err != nil {
			logger.WarnKV(ctx, "Log file unavailable, logging to stdout only", "path", options.LogFile, "error", err)
		} else {
			logger.SetLogger(fileLogger)
			ctx = logger.ToContext(ctx, fileLogger)
		}
	}

	logger.InfoKV(ctx, "Swap requested", "version", version.Short(), "args", args)

	result := orchestrator.New(options, orchestrator.WithBackupVerification(verifyBackup)).Run(ctx)

	return result.ExitCode
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&options.StateFile, orchestrator.FlagStateFile, "", "install state file to update")
	flags.StringVar(&options.LogFile, orchestrator.FlagLogFile, "", "rolling log file")
	flags.StringVar(&options.LockFile, orchestrator.FlagLockFile, "", "lock file preventing concurrent swaps")
	flags.StringSliceVar(&options.Preserve, orchestrator.FlagPreserve, nil, "settings files restored after the swap")
	flags.StringVar(&options.StagingRoot, orchestrator.FlagStagingRoot, "", "extraction directory removed afterwards")
	flags.BoolVar(&verifyBackup, "verify-backup", true, "compare the backup with the install directory before mutating it")
}
