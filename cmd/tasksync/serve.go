package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/daemon"
	"github.com/mschirtzinger/tasksync/internal/dashboard"
	"github.com/mschirtzinger/tasksync/internal/storage/factory"
	"github.com/mschirtzinger/tasksync/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the sync HTTP server",
	Long: `Run the sync server.

Endpoints:
  POST /api/sync/push     Push changed records from one source
  GET  /api/sync/pull     Pull records changed by other sources
  GET  /api/sync/status   Cursors and per-source counts
  POST /api/sync/clear    Delete sync data (requires confirmation token)
  GET  /health            Liveness and connected dashboard clients
  GET  /ws                Live event stream

With --dir (or watch.dir) the server also watches a vault directory and pushes
its task files as source "vault".

Example usage:
  tasksync serve                      # Start on default port 8080
  tasksync serve --port 9000 --dir ~/notes/tasks`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Only one server may own an embedded database file.
		if factory.IsEmbedded(appConfig.DSN()) {
			lock, err := acquireLock(appConfig.LockPath())
			if err != nil {
				exitf("%v", err)
			}
			defer func() { _ = lock.Unlock() }()
		}

		hub := dashboard.NewHub(&dashboard.Config{Logger: logger})
		hub.Start()
		defer hub.Stop()

		backend, err := factory.Open(ctx, appConfig.DSN())
		if err != nil {
			exitf("failed to open storage: %v", err)
		}
		defer closeOnExit(backend)()

		handler := dashboard.NewHandler(hub, backend, logger)
		svc, err := newServiceOn(backend, sync.WithNotifier(handler))
		if err != nil {
			exitf("%v", err)
		}

		syncCfg := svc.Config()
		logger.Info("sync configured",
			"tie_policy", syncCfg.TiePolicy,
			"max_pull_limit", syncCfg.MaxPullLimit,
			"concurrency", syncCfg.Concurrency)

		if appConfig.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		server := api.NewServer(svc, api.Config{
			Hub:          hub,
			Logger:       logger,
			ReadTimeout:  appConfig.Server.ReadTimeout,
			WriteTimeout: appConfig.Server.WriteTimeout,
		})

		addr := ":" + strconv.Itoa(appConfig.Server.Port)
		fmt.Printf("Sync server listening on http://localhost%s\n", addr)
		fmt.Printf("WebSocket endpoint: ws://localhost%s/ws\n", addr)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			handler.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return server.Run(gctx, addr)
		})
		if dir := appConfig.Watch.Dir; dir != "" {
			d, err := daemon.New(svc, dir, &daemon.Config{
				DebounceInterval: appConfig.Watch.Debounce,
				Logger:           logger,
			})
			if err != nil {
				exitf("%v", err)
			}
			fmt.Printf("Watching vault: %s\n", dir)
			g.Go(func() error {
				return d.Run(gctx)
			})
		}

		if err := g.Wait(); err != nil {
			exitf("%v", err)
		}
		fmt.Println("Sync server stopped")
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("dir", "", "Vault directory to watch (optional)")
	rootCmd.AddCommand(serveCmd)
}

// acquireLock takes the exclusive process lock at path without waiting.
func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring server lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another tasksync server is using %s", filepath.Dir(path))
	}
	return lock, nil
}
