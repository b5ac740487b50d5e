package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/ui"
)

var pushCmd = &cobra.Command{
	Use:     "push [file|dir]...",
	GroupID: "sync",
	Short:   "Push task files into the sync store",
	Long: `Push records from task files as one batch.

Accepted files:
  *.json             one record object or an array of records
  *.md, *.markdown   a note with YAML (---) or TOML (+++) front matter

Directories are read non-recursively; unreadable files are reported and
skipped. The batch counts as a single push for the source's cursor.

Examples:
  tasksync push --source vault ~/notes/tasks
  tasksync push --source extension export.json --json`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source, _ := cmd.Flags().GetString("source")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		records, err := collectRecords(args)
		if err != nil {
			exitf("%v", err)
		}

		ctx := context.Background()
		svc, backend, err := openService(ctx)
		if err != nil {
			exitf("%v", err)
		}
		defer closeOnExit(backend)()

		result, err := svc.Push(ctx, source, records)
		if err != nil {
			exitf("push failed: %v", err)
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				exitf("%v", err)
			}
			return
		}
		ui.NewPrinter(os.Stdout).PushResult(source, result)
	},
}

func init() {
	pushCmd.Flags().StringP("source", "s", string(schema.SourceVault), "Source tag for the pushed records")
	pushCmd.Flags().Bool("json", false, "Output result as JSON")
	rootCmd.AddCommand(pushCmd)
}

// collectRecords reads every record from the given files and directories.
func collectRecords(paths []string) ([]*schema.TaskRecord, error) {
	var records []*schema.TaskRecord
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}

		if info.IsDir() {
			recs, err := schema.ReadAllRecordFiles(path, func(p string, err error) {
				fmt.Fprintf(os.Stderr, "Warning: skipping %s: %v\n", p, err)
			})
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
			continue
		}

		recs, err := schema.ReadRecordFile(path)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}
