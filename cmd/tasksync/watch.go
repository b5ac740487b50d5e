package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/daemon"
	"github.com/mschirtzinger/tasksync/internal/storage/factory"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "server",
	Short:   "Watch a vault directory and push changes",
	Long: `Import every task file in the vault directory, then push each settled
burst of changes as one batch from source "vault".

Deleted files are ignored; records are only removed by 'tasksync clear'.

Example usage:
  tasksync watch --dir ~/notes/tasks`,
	Run: func(cmd *cobra.Command, args []string) {
		dir := appConfig.Watch.Dir
		if dir == "" {
			exitf("no vault directory: pass --dir or set watch.dir")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if factory.IsEmbedded(appConfig.DSN()) {
			lock, err := acquireLock(appConfig.LockPath())
			if err != nil {
				exitf("%v", err)
			}
			defer func() { _ = lock.Unlock() }()
		}

		svc, backend, err := openService(ctx)
		if err != nil {
			exitf("%v", err)
		}
		defer closeOnExit(backend)()

		d, err := daemon.New(svc, dir, &daemon.Config{
			DebounceInterval: appConfig.Watch.Debounce,
			Logger:           logger,
		})
		if err != nil {
			exitf("%v", err)
		}

		fmt.Printf("Watching %s (Ctrl+C to stop)\n", dir)
		if err := d.Run(ctx); err != nil {
			exitf("%v", err)
		}
	},
}

func init() {
	watchCmd.Flags().String("dir", "", "Vault directory to watch")
	rootCmd.AddCommand(watchCmd)
}
