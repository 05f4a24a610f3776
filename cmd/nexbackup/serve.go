package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexbackup/internal/app"
	"github.com/aatumaykin/nexbackup/internal/config"
	"github.com/aatumaykin/nexbackup/internal/constants"
	"github.com/aatumaykin/nexbackup/internal/logger"
)

var serveLogLevel string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the backup scheduler and stream gateway (main command)",
	Long: `Start Nexbackup with the specified configuration.
This opens the stores, starts the entity runtime that fires coordinator and
backup timers, and serves the notification stream gateway until SIGINT or
SIGTERM.`,
	Run: serveHandler,
}

func init() {
	serveCmd.Flags().StringVarP(&serveLogLevel, "log-level", "l", "", "override logging.level (debug, info, warn, error)")
}

func serveHandler(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	applyServeOverrides(cfg)

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Printf("❌ Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	log.Info("🚀 Starting Nexbackup",
		logger.Field{Key: "version", Value: Version},
		logger.Field{Key: "git_commit", Value: GitCommit},
		logger.Field{Key: "config", Value: resolveConfigPath(configPath)},
		logger.Field{Key: "tasks_dsn", Value: config.MaskDSN(cfg.Tasks.DSN)})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, log).Run(ctx); err != nil {
		log.Error("Application stopped with error", err)
		fmt.Printf(constants.MsgStartupError, err)
		os.Exit(1)
	}
	log.Info("👋 Nexbackup stopped")
}

func applyServeOverrides(cfg *config.Config) {
	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}
}
