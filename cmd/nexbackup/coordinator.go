package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexbackup/internal/app"
	"github.com/aatumaykin/nexbackup/internal/constants"
)

// coordinatorCmd represents the coordinator command
var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Control a user's task coordinator reminder",
	Long: `Arm or remove the durable reminder that makes a user's coordinator
expand their task definitions into backup jobs. The reminder is stored in the
entity store and fires inside a running 'nexbackup serve'.`,
}

var coordinatorEnableCmd = &cobra.Command{
	Use:   "enable <user-id>",
	Short: "Arm the coordinator reminder",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setCoordinator(args[0], true)
		fmt.Fprintf(cmd.OutOrStdout(), constants.MsgCoordinatorEnabled, args[0])
	},
}

var coordinatorDisableCmd = &cobra.Command{
	Use:   "disable <user-id>",
	Short: "Remove the coordinator reminder",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setCoordinator(args[0], false)
		fmt.Fprintf(cmd.OutOrStdout(), constants.MsgCoordinatorDisabled, args[0])
	},
}

func init() {
	coordinatorCmd.AddCommand(coordinatorEnableCmd)
	coordinatorCmd.AddCommand(coordinatorDisableCmd)
}

func setCoordinator(userID string, on bool) {
	cfg := mustLoadConfig()
	ctx := context.Background()

	a := app.New(cfg, cliLogger(cfg))
	err := a.Initialize(ctx)
	if err == nil {
		err = a.Coordinators().Enable(ctx, userID, on)
	}
	if serr := a.Shutdown(ctx); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}
