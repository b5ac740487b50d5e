// Package daemon watches a vault directory and pushes changed task files
// through the sync service.
//
// The daemon:
// 1. Imports every record file once on startup
// 2. Watches the directory for created or modified files
// 3. Debounces bursts of events and pushes each settled batch as one push
// 4. Handles graceful shutdown
//
// Deleted files are ignored; records only disappear through an
// administrative clear.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/tasksync/internal/schema"
	tasksync "github.com/mschirtzinger/tasksync/internal/sync"
)

// Pusher ingests a batch of records for one source. *sync.Service
// satisfies it.
type Pusher interface {
	Push(ctx context.Context, source string, records []*schema.TaskRecord) (*tasksync.PushResult, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Source tags every pushed record (default: vault)
	Source schema.Source

	// DebounceInterval is how long a file must be quiet before it is pushed.
	// This batches rapid updates together
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Source:           schema.SourceVault,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           slog.Default(),
	}
}

// Daemon pushes vault file changes into the sync service.
type Daemon struct {
	pusher Pusher
	dir    string
	config *Config
	logger *slog.Logger

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event
	changeQueueMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a daemon watching dir. Use Run to start it.
func New(pusher Pusher, dir string, config *Config) (*Daemon, error) {
	if pusher == nil {
		return nil, fmt.Errorf("pusher cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("watch directory cannot be empty")
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.Source == "" {
		cfg.Source = defaults.Source
	}
	if !cfg.Source.Valid() {
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = defaults.DebounceInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch directory: %w", err)
	}

	return &Daemon{
		pusher:      pusher,
		dir:         absDir,
		config:      &cfg,
		logger:      cfg.Logger.With("component", "daemon", "dir", absDir),
		changeQueue: make(map[string]time.Time),
	}, nil
}

// Run performs the initial import, then watches until ctx is cancelled.
// It returns nil on a clean shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting daemon")

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	d.watcher = watcher

	// Watch before the initial import so edits made during it are not lost.
	if err := d.watcher.Add(d.dir); err != nil {
		_ = d.watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	if _, err := d.PerformFullSync(ctx); err != nil {
		_ = d.watcher.Close()
		return fmt.Errorf("initial sync failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.wg.Add(2)
	go d.watchFileEvents(runCtx)
	go d.processChangeQueue(runCtx)

	<-ctx.Done()
	d.logger.Info("shutdown signal received")

	cancel()
	if err := d.watcher.Close(); err != nil {
		d.logger.Warn("error closing watcher", "error", err)
	}
	d.wg.Wait()

	d.logger.Info("daemon stopped")
	return nil
}

// PerformFullSync pushes every record file in the directory as one batch.
// A nil result means there was nothing to push.
func (d *Daemon) PerformFullSync(ctx context.Context) (*tasksync.PushResult, error) {
	records, err := schema.ReadAllRecordFiles(d.dir, d.skip)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		d.logger.Info("full sync: no records")
		return nil, nil
	}

	d.logger.Info("full sync", "records", len(records))
	return d.push(ctx, records)
}

func (d *Daemon) skip(path string, err error) {
	d.logger.Warn("skipping unreadable record file", "path", path, "error", err)
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only creates and writes carry content
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !schema.IsRecordFile(event.Name) {
				continue
			}

			d.logger.Debug("file event", "op", event.Op.String(), "path", event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file changes with debouncing.
func (d *Daemon) processChangeQueue(ctx context.Context) {
	defer d.wg.Done()

	// Tick faster than the debounce so settled files are picked up promptly.
	ticker := time.NewTicker(max(d.config.DebounceInterval/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges(ctx)
		}
	}
}

// settled removes and returns the queued paths that have been quiet for a
// full debounce interval.
func (d *Daemon) settled(now time.Time) []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	var paths []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		paths = append(paths, path)
		delete(d.changeQueue, path)
	}
	sort.Strings(paths)
	return paths
}

// processPendingChanges pushes every settled file as a single batch.
func (d *Daemon) processPendingChanges(ctx context.Context) {
	paths := d.settled(time.Now())
	if len(paths) == 0 {
		return
	}

	var records []*schema.TaskRecord
	for _, path := range paths {
		recs, err := schema.ReadRecordFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Removed before it settled
				continue
			}
			d.skip(path, err)
			continue
		}
		records = append(records, recs...)
	}
	if len(records) == 0 {
		return
	}

	if _, err := d.push(ctx, records); err != nil {
		d.logger.Error("push failed", "files", len(paths), "error", err)
	}
}

func (d *Daemon) push(ctx context.Context, records []*schema.TaskRecord) (*tasksync.PushResult, error) {
	result, err := d.pusher.Push(ctx, string(d.config.Source), records)
	if err != nil {
		return result, err
	}

	for _, c := range result.Conflicts {
		d.logger.Info("vault edit superseded", "task_id", c.TaskID, "reason", c.Reason)
	}
	for _, e := range result.Errors {
		d.logger.Warn("record rejected", "task_id", e.TaskID, "error", e.Err)
	}
	d.logger.Info("pushed",
		"records", len(records),
		"synced", result.Synced,
		"conflicts", len(result.Conflicts),
		"errors", len(result.Errors),
	)
	return result, nil
}
