package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexbackup/internal/constants"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Validate and manage Nexbackup configuration.`,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file and check for errors.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) > 0 {
			configPath = args[0]
		}
		_, path, err := loadConfig(cmd.OutOrStdout())
		if err != nil {
			os.Exit(1)
		}
		fmt.Fprintf(cmd.OutOrStdout(), constants.MsgConfigValid, path)
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
