package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Pull records changed by other sources",
	Long: `Print records changed after --since that were last written by a source
other than --source, newest first.

--since accepts RFC 3339 timestamps or natural language such as
"2 hours ago" or "yesterday". Without it every record is returned, subject
to the pull limit.

Examples:
  tasksync pull --source vault --since "2 hours ago"
  tasksync pull --source extension --since 2026-03-01T09:00:00Z --format yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		source, _ := cmd.Flags().GetString("source")
		sinceRaw, _ := cmd.Flags().GetString("since")
		format, _ := cmd.Flags().GetString("format")

		var since time.Time
		if sinceRaw != "" {
			t, err := parseSince(sinceRaw, time.Now())
			if err != nil {
				exitf("%v", err)
			}
			since = t
		}

		ctx := context.Background()
		svc, backend, err := openService(ctx)
		if err != nil {
			exitf("%v", err)
		}
		defer closeOnExit(backend)()

		records, err := svc.Pull(ctx, source, since)
		if err != nil {
			exitf("pull failed: %v", err)
		}

		if err := writeRecords(os.Stdout, format, records); err != nil {
			exitf("%v", err)
		}
	},
}

func init() {
	pullCmd.Flags().StringP("source", "s", "", "Pulling source; its own writes are excluded")
	pullCmd.Flags().String("since", "", `Only records updated after this time (RFC 3339 or e.g. "2 hours ago")`)
	pullCmd.Flags().StringP("format", "f", "json", "Output format: json or yaml")
	rootCmd.AddCommand(pullCmd)
}

var sinceParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince accepts an RFC 3339 timestamp or a natural-language time
// relative to now.
func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}

	r, err := sinceParser.Parse(raw, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: %w", raw, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: not a recognized time", raw)
	}
	return r.Time.UTC(), nil
}

func writeRecords(w io.Writer, format string, records []*schema.TaskRecord) error {
	if records == nil {
		records = []*schema.TaskRecord{}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}
