// Command tasksync runs and administers the multi-source task sync server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/tasksync/internal/config"
	"github.com/mschirtzinger/tasksync/internal/logging"
	"github.com/mschirtzinger/tasksync/internal/storage"
	"github.com/mschirtzinger/tasksync/internal/storage/factory"
	"github.com/mschirtzinger/tasksync/internal/sync"
)

var (
	cfgFile string

	appConfig *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "Multi-source task sync server",
	Long: `tasksync keeps task records consistent between independent clients
(a notes vault, a browser extension, the server itself).

Clients push the records they changed and pull what other clients changed
since their last sync. Conflicts are resolved last-write-wins on updatedAt.

Configuration is read from tasksync.yaml (current directory or
~/.config/tasksync), TASKSYNC_* environment variables, a .env file, and flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := config.New()
		bindFlag(v, "storage.dsn", cmd, "dsn")
		bindFlag(v, "log.level", cmd, "log-level")
		bindFlag(v, "server.port", cmd, "port")
		bindFlag(v, "watch.dir", cmd, "dir")

		cfg, err := config.Read(v, cfgFile)
		if err != nil {
			return err
		}
		appConfig = cfg

		l, closer, err := logging.New(logging.Options{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		if err != nil {
			return err
		}
		logger, logCloser = l, closer
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./tasksync.yaml or ~/.config/tasksync/tasksync.yaml)")
	rootCmd.PersistentFlags().String("dsn", "", "Storage DSN: path, memory://, libsql://..., or postgres://...")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bindFlag lets a command-line flag override a config key when the command
// defines it.
func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if f := cmd.Flags().Lookup(name); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

// openService opens the configured backend and builds a sync service on it.
// The caller closes the returned backend.
func openService(ctx context.Context, opts ...sync.Option) (*sync.Service, storage.Backend, error) {
	backend, err := factory.Open(ctx, appConfig.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	svc, err := newServiceOn(backend, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return svc, backend, nil
}

// newServiceOn builds a sync service over an already open backend.
func newServiceOn(backend storage.Backend, opts ...sync.Option) (*sync.Service, error) {
	syncCfg, err := appConfig.SyncConfig()
	if err != nil {
		return nil, err
	}

	opts = append([]sync.Option{sync.WithLogger(logger)}, opts...)
	return sync.New(backend, syncCfg, opts...)
}

// exitClosers are closed by exitf, newest first, since os.Exit skips
// deferred calls and an embedded database must checkpoint on close.
var exitClosers []io.Closer

// closeOnExit registers c with exitf. The returned func closes c on a
// normal return and is meant to be deferred.
func closeOnExit(c io.Closer) func() {
	exitClosers = append(exitClosers, c)
	return func() {
		for i := len(exitClosers) - 1; i >= 0; i-- {
			if exitClosers[i] == c {
				exitClosers = append(exitClosers[:i], exitClosers[i+1:]...)
				break
			}
		}
		_ = c.Close()
	}
}

// closeAll closes every registered closer, newest first.
func closeAll() {
	for i := len(exitClosers) - 1; i >= 0; i-- {
		if err := exitClosers[i].Close(); err != nil && logger != nil {
			logger.Warn("close failed during exit", "error", err)
		}
	}
	exitClosers = nil
}

// exitf prints an error and exits, as every command does on failure.
func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	closeAll()
	if logCloser != nil {
		_ = logCloser.Close()
	}
	os.Exit(1)
}
