package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/migrate"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "sync",
	Short:   "Write stored records to JSONL or a vault directory",
	Long: `Dump stored records, newest first. --jsonl writes one archive file;
--out-dir writes one {id}.json per record, which is how a fresh vault is seeded.
Unlike pull, export is not capped and does not suppress any source.

Examples:
  tasksync export --jsonl backup.jsonl
  tasksync export --out-dir ~/notes/tasks --since "yesterday"`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonlPath, _ := cmd.Flags().GetString("jsonl")
		dir, _ := cmd.Flags().GetString("out-dir")
		sinceRaw, _ := cmd.Flags().GetString("since")

		var since time.Time
		if sinceRaw != "" {
			t, err := parseSince(sinceRaw, time.Now())
			if err != nil {
				exitf("%v", err)
			}
			since = t
		}

		ctx := context.Background()
		_, backend, err := openService(ctx)
		if err != nil {
			exitf("%v", err)
		}
		defer closeOnExit(backend)()

		result, err := migrate.Export(ctx, backend, migrate.ExportOptions{
			ToJSONL: jsonlPath,
			ToDir:   dir,
			Since:   since,
		})
		if err != nil {
			exitf("export failed: %v", err)
		}
		fmt.Printf("Exported %d records (%d files written)\n", result.Records, result.FilesWritten)
	},
}

func init() {
	exportCmd.Flags().String("jsonl", "", "Write a JSONL archive to this path")
	exportCmd.Flags().String("out-dir", "", "Write one file per record into this directory")
	exportCmd.Flags().String("since", "", "Only records updated after this time")
	rootCmd.AddCommand(exportCmd)
}
