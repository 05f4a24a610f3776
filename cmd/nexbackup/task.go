package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aatumaykin/nexbackup/internal/constants"
	"github.com/aatumaykin/nexbackup/internal/duration"
	"github.com/aatumaykin/nexbackup/internal/storage"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

var (
	taskAddUser      string
	taskAddID        string
	taskAddFiles     []string
	taskAddServers   []string
	taskAddFrequency string
	taskListUser     string
)

// taskCmd represents the task command
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage backup task definitions",
	Long:  `Add, list and import backup task definitions in the configured task store.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a backup task",
	Long: `Add a backup task that copies every file on every server at the given
ISO-8601 frequency.

Example:
  nexbackup task add --user alice --file docs/report.txt --server srv1 --frequency PT1H`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		def := tasks.Definition{
			UserID:    taskAddUser,
			ID:        taskAddID,
			Files:     taskAddFiles,
			Servers:   taskAddServers,
			Frequency: taskAddFrequency,
		}
		withTaskStore(func(ctx context.Context, store tasks.Store) error {
			return addTask(ctx, store, def, cmd.OutOrStdout())
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's backup tasks",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withTaskStore(func(ctx context.Context, store tasks.Store) error {
			return listTasks(ctx, store, taskListUser, cmd.OutOrStdout())
		})
	},
}

var taskImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import backup tasks from a YAML file",
	Long: `Import backup tasks from a YAML document of the form:

  tasks:
    - user_id: alice
      files: [docs/report.txt]
      servers: [srv1, srv2]
      frequency: P1D`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			fmt.Printf("❌ Failed to open %s: %v\n", args[0], err)
			os.Exit(1)
		}
		defer f.Close()

		withTaskStore(func(ctx context.Context, store tasks.Store) error {
			_, failed, err := importTasks(ctx, store, f, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d task(s) rejected", failed)
			}
			return nil
		})
	},
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskAddUser, "user", "u", "", "owner user ID (required)")
	taskAddCmd.Flags().StringVar(&taskAddID, "id", "", "task ID (generated when empty)")
	taskAddCmd.Flags().StringSliceVarP(&taskAddFiles, "file", "f", nil, "file path relative to the source root (repeatable)")
	taskAddCmd.Flags().StringSliceVarP(&taskAddServers, "server", "s", nil, "server name (repeatable)")
	taskAddCmd.Flags().StringVar(&taskAddFrequency, "frequency", "", "ISO-8601 duration, for example PT30S or P1D")
	_ = taskAddCmd.MarkFlagRequired("user")
	_ = taskAddCmd.MarkFlagRequired("frequency")

	taskListCmd.Flags().StringVarP(&taskListUser, "user", "u", "", "owner user ID (required)")
	_ = taskListCmd.MarkFlagRequired("user")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskImportCmd)
}

// withTaskStore opens the configured task store, runs fn and exits non-zero
// on failure.
func withTaskStore(fn func(ctx context.Context, store tasks.Store) error) {
	cfg := mustLoadConfig()
	ctx := context.Background()

	store, err := storage.OpenTaskStore(ctx, cfg.Tasks, cliLogger(cfg))
	if err != nil {
		fmt.Printf("❌ Failed to open task store: %v\n", err)
		os.Exit(1)
	}
	err = fn(ctx, store)
	if cerr := store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

// checkFrequency rejects durations the coordinator could never schedule.
func checkFrequency(freq string) error {
	secs, err := duration.Seconds(freq)
	if err != nil {
		return fmt.Errorf("invalid frequency %q: %w", freq, err)
	}
	if secs <= 0 {
		return fmt.Errorf("invalid frequency %q: %w", freq, duration.ErrInvalid)
	}
	return nil
}

func prepareDefinition(def *tasks.Definition) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return err
	}
	return checkFrequency(def.Frequency)
}

func addTask(ctx context.Context, store tasks.Store, def tasks.Definition, out io.Writer) error {
	if err := prepareDefinition(&def); err != nil {
		return err
	}
	if err := store.Create(ctx, def); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	fmt.Fprint(out, constants.MsgTaskAdded)
	printTask(out, def)
	fmt.Fprintf(out, constants.MsgTaskActivateNote, def.UserID)
	return nil
}

func listTasks(ctx context.Context, store tasks.Store, userID string, out io.Writer) error {
	defs, err := store.ListByOwner(ctx, userID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(defs) == 0 {
		fmt.Fprintf(out, constants.MsgNoTasks, userID)
		return nil
	}
	for i, d := range defs {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printTask(out, d)
	}
	return nil
}

func printTask(out io.Writer, d tasks.Definition) {
	fmt.Fprintf(out, constants.MsgTaskID, d.ID)
	fmt.Fprintf(out, constants.MsgTaskUser, d.UserID)
	fmt.Fprintf(out, constants.MsgTaskFiles, strings.Join(d.Files, ", "))
	fmt.Fprintf(out, constants.MsgTaskServers, strings.Join(d.Servers, ", "))
	fmt.Fprintf(out, constants.MsgTaskFrequency, d.Frequency)
}

type importFile struct {
	Tasks []tasks.Definition `yaml:"tasks"`
}

// importTasks stores every valid definition in r. A rejected definition is
// reported and counted without stopping the import.
func importTasks(ctx context.Context, store tasks.Store, r io.Reader, out io.Writer) (int, int, error) {
	var doc importFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			fmt.Fprintf(out, constants.MsgTasksImported, 0, 0)
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("parse tasks: %w", err)
	}

	var imported, failed int
	for i := range doc.Tasks {
		def := doc.Tasks[i]
		label := def.ID
		if label == "" {
			label = fmt.Sprintf("tasks[%d]", i)
		}
		if err := prepareDefinition(&def); err != nil {
			fmt.Fprintf(out, constants.MsgTaskImportFailed, label, err)
			failed++
			continue
		}
		if err := store.Create(ctx, def); err != nil {
			if errors.Is(err, tasks.ErrDuplicate) || errors.Is(err, tasks.ErrInvalidDefinition) {
				fmt.Fprintf(out, constants.MsgTaskImportFailed, label, err)
				failed++
				continue
			}
			return imported, failed, fmt.Errorf("create task %s: %w", label, err)
		}
		imported++
	}

	fmt.Fprintf(out, constants.MsgTasksImported, imported, failed)
	return imported, failed, nil
}
