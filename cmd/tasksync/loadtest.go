package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/loadtest"
	"github.com/mschirtzinger/tasksync/internal/storage"
	"github.com/mschirtzinger/tasksync/internal/storage/factory"
	"github.com/mschirtzinger/tasksync/internal/storage/memory"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "admin",
	Short:   "Simulate concurrent clients and verify last-write-wins",
	Long: `Run many simulated vault and extension clients that push random
timestamps for a shared set of ids, then check every id holds the newest
timestamp pushed for it.

The run uses a scratch in-memory store unless --use-config is given, in which
case it writes to the configured storage. Never point it at production data.

Examples:
  tasksync loadtest
  tasksync loadtest --clients 100 --ids 20`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := loadtest.DefaultOptions()
		opts.Clients, _ = cmd.Flags().GetInt("clients")
		opts.PushesPerClient, _ = cmd.Flags().GetInt("pushes")
		opts.BatchSize, _ = cmd.Flags().GetInt("batch")
		opts.IDs, _ = cmd.Flags().GetInt("ids")
		opts.Seed, _ = cmd.Flags().GetInt64("seed")
		useConfig, _ := cmd.Flags().GetBool("use-config")

		ctx := context.Background()

		var backend storage.Backend = memory.New()
		if useConfig {
			b, err := factory.Open(ctx, appConfig.DSN())
			if err != nil {
				exitf("failed to open storage: %v", err)
			}
			backend = b
		}
		defer closeOnExit(backend)()

		svc, err := newServiceOn(backend)
		if err != nil {
			exitf("%v", err)
		}

		start := time.Now()
		report, err := loadtest.Run(ctx, svc, backend, opts)
		if err != nil {
			exitf("load test failed: %v", err)
		}
		finish(report, time.Since(start))
	},
}

func finish(report *loadtest.Report, elapsed time.Duration) {
	report.Print(os.Stdout)
	fmt.Printf("Completed in %v\n", elapsed.Round(time.Millisecond))
	if len(report.Violations) > 0 {
		exitf("%d records violated last-write-wins", len(report.Violations))
	}
}

func init() {
	defaults := loadtest.DefaultOptions()
	loadtestCmd.Flags().Int("clients", defaults.Clients, "Number of concurrent clients")
	loadtestCmd.Flags().Int("pushes", defaults.PushesPerClient, "Pushes per client")
	loadtestCmd.Flags().Int("batch", defaults.BatchSize, "Records per push")
	loadtestCmd.Flags().Int("ids", defaults.IDs, "Size of the shared id pool")
	loadtestCmd.Flags().Int64("seed", defaults.Seed, "Random seed")
	loadtestCmd.Flags().Bool("use-config", false, "Run against the configured storage instead of memory")
	rootCmd.AddCommand(loadtestCmd)
}
