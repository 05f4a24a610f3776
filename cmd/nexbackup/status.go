package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexbackup/internal/constants"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

var statusFilter tasks.StatusFilter

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect backup job history",
}

var statusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup status records",
	Long:  `List the append-only status log, oldest first, optionally narrowed by user, task or job.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withTaskStore(func(ctx context.Context, store tasks.Store) error {
			return listStatus(ctx, store, statusFilter, cmd.OutOrStdout())
		})
	},
}

func init() {
	statusListCmd.Flags().StringVarP(&statusFilter.UserID, "user", "u", "", "filter by user ID")
	statusListCmd.Flags().StringVarP(&statusFilter.TaskID, "task", "t", "", "filter by task ID")
	statusListCmd.Flags().StringVarP(&statusFilter.JobID, "job", "j", "", "filter by job ID")
	statusListCmd.Flags().IntVarP(&statusFilter.Limit, "limit", "n", 50, "show at most the N newest records (0 for all)")

	statusCmd.AddCommand(statusListCmd)
}

func listStatus(ctx context.Context, store tasks.Store, f tasks.StatusFilter, out io.Writer) error {
	recs, err := store.ListStatus(ctx, f)
	if err != nil {
		return fmt.Errorf("list status: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprint(out, constants.MsgNoStatus)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tUSER\tJOB\tSERVER\tSTATUS\tSOURCE\tDEST")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Format(time.RFC3339), r.UserID, r.JobID, r.ServerName, r.Status, r.SourcePath, r.DestPath)
	}
	return w.Flush()
}
