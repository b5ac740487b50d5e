package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/migrate"
)

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "sync",
	Short:   "Push a JSONL archive of task records",
	Long: `Push every line of a JSONL file as a task record, in batches, through
the normal conflict resolution. Older records lose to what is already stored.

Examples:
  tasksync import tasks.jsonl --source server
  tasksync import tasks.jsonl --dry-run`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source, _ := cmd.Flags().GetString("source")
		batch, _ := cmd.Flags().GetInt("batch")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		ctx := context.Background()
		svc, backend, err := openService(ctx)
		if err != nil {
			exitf("%v", err)
		}
		defer closeOnExit(backend)()

		result, err := migrate.Import(ctx, svc, migrate.ImportOptions{
			FromJSONL: args[0],
			Source:    source,
			BatchSize: batch,
			DryRun:    dryRun,
			Backup:    backup,
		})
		if err != nil {
			exitf("import failed: %v", err)
		}

		if result.BackupCreated != "" {
			fmt.Printf("Backup: %s\n", result.BackupCreated)
		}
		if dryRun {
			fmt.Printf("Would import %d records\n", result.Read)
			return
		}
		fmt.Printf("Imported %d of %d records in %d batches (%d conflicts, %d errors)\n",
			result.Synced, result.Read, result.Batches, result.Conflicts, len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  %s\n", e)
		}
	},
}

func init() {
	importCmd.Flags().StringP("source", "s", "server", "Source to push as (vault, extension, server)")
	importCmd.Flags().Int("batch", migrate.DefaultBatchSize, "Records per push")
	importCmd.Flags().Bool("dry-run", false, "Parse the file without pushing")
	importCmd.Flags().Bool("backup", false, "Copy the input file aside first")
	rootCmd.AddCommand(importCmd)
}
