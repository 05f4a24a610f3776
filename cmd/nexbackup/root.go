package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexbackup/internal/config"
	"github.com/aatumaykin/nexbackup/internal/constants"
	"github.com/aatumaykin/nexbackup/internal/logger"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nexbackup",
	Short: "Nexbackup - durable backup scheduling engine",
	Long: `Nexbackup schedules recurring file backups per user on durable timers
and streams progress notifications to connected clients over HTTP.`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default $NEXBACKUP_CONFIG or ./config.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(coordinatorCmd)
}

// resolveConfigPath picks the flag, then the environment, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(constants.EnvConfigPath); env != "" {
		return env
	}
	return constants.DefaultConfigPath
}

// loadConfig reads .env, loads and validates the configuration. Problems are
// written to out.
func loadConfig(out io.Writer) (*config.Config, string, error) {
	if err := config.LoadEnvOptional(constants.DefaultEnvPath); err != nil {
		return nil, "", fmt.Errorf("load %s: %w", constants.DefaultEnvPath, err)
	}

	path := resolveConfigPath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(out, constants.MsgConfigLoadError, err)
		return nil, path, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprint(out, constants.MsgConfigValidationError)
		for _, e := range errs {
			fmt.Fprintf(out, constants.MsgConfigValidatePrefix, e)
		}
		return nil, path, fmt.Errorf("%d configuration errors", len(errs))
	}
	return cfg, path, nil
}

// mustLoadConfig is loadConfig for command handlers.
func mustLoadConfig() *config.Config {
	cfg, _, err := loadConfig(os.Stdout)
	if err != nil {
		os.Exit(1)
	}
	return cfg
}

// cliLogger keeps one-shot commands quiet unless something goes wrong.
func cliLogger(cfg *config.Config) *logger.Logger {
	log, err := logger.New(logger.Config{
		Level:  "warn",
		Format: cfg.Logging.Format,
		Output: "stderr",
	})
	if err != nil {
		return logger.Nop()
	}
	return log
}
