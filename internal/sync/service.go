package sync

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mschirtzinger/tasksync/internal/keylock"
	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
)

// Config holds the tunables of a Service.
type Config struct {
	// MaxPullLimit caps the records returned by one pull
	MaxPullLimit int
	// Concurrency bounds the records of one push processed in parallel
	Concurrency int
	// TiePolicy settles equal updatedAt timestamps
	TiePolicy TiePolicy
	// SourcePriority ranks sources for TieSourcePriority, highest first
	SourcePriority []schema.Source
}

// DefaultConfig returns the default Service configuration.
func DefaultConfig() Config {
	return Config{
		MaxPullLimit: 100,
		Concurrency:  4,
		TiePolicy:    TieIncomingWins,
	}
}

// Validate checks the configuration for values New cannot work with.
func (c Config) Validate() error {
	if c.MaxPullLimit <= 0 {
		return fmt.Errorf("max pull limit must be positive, got %d", c.MaxPullLimit)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if _, err := ParseTiePolicy(string(c.TiePolicy)); err != nil {
		return err
	}
	for _, src := range c.SourcePriority {
		if !src.Valid() {
			return fmt.Errorf("source priority: unknown source %q", src)
		}
	}
	return nil
}

// Notifier observes sync activity. Implementations must not block.
type Notifier interface {
	// RecordApplied is called after a pushed record was written.
	RecordApplied(rec *schema.TaskRecord, d Decision)
	// PushCompleted is called once per push after the cursor was touched.
	PushCompleted(source schema.Source, result *PushResult)
	// DataCleared is called after an administrative clear.
	DataCleared(source schema.Source, result *ClearResult)
}

// Service implements push, pull and the administrative operations on top of
// a storage backend.
type Service struct {
	backend  storage.Backend
	resolver *Resolver
	registry *Registry
	locks    *keylock.Locker
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	cfg      Config
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier registers an observer for sync activity.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock replaces time.Now for cursor and status timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service over backend.
//
// Example:
//
//	backend, err := factory.Open(ctx, "file:.tasksync/tasksync.db")
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	svc, err := sync.New(backend, sync.DefaultConfig())
//	if err != nil {
//	    return err
//	}
func New(backend storage.Backend, cfg Config, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if cfg.TiePolicy == "" {
		cfg.TiePolicy = TieIncomingWins
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync config: %w", err)
	}

	s := &Service{
		backend: backend,
		locks:   keylock.New(),
		logger:  slog.Default(),
		now:     time.Now,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("component", "sync")
	s.resolver = NewResolver(cfg.TiePolicy, cfg.SourcePriority)
	s.registry = NewRegistry(backend, s.now)
	s.logger.Debug("sync service ready",
		"tie_policy", s.resolver.Policy(),
		"max_pull_limit", cfg.MaxPullLimit,
		"concurrency", cfg.Concurrency)
	return s, nil
}

// Config returns the configuration the service was created with.
func (s *Service) Config() Config {
	return s.cfg
}

// Registry returns the service's cursor registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// parseSource validates a source tag from a request.
func parseSource(raw string) (schema.Source, error) {
	if raw == "" {
		return "", &ValidationError{Field: "source", Message: "missing source tag"}
	}
	src, err := schema.ParseSource(raw)
	if err != nil {
		return "", &ValidationError{Field: "source", Message: err.Error()}
	}
	return src, nil
}
