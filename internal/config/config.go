// Package config loads tasksync settings from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/sync"
)

// EnvPrefix prefixes every environment override, e.g. TASKSYNC_STORAGE_DSN.
const EnvPrefix = "TASKSYNC"

// Config is the complete tasksync configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
}

// StorageConfig selects the backend.
type StorageConfig struct {
	// DSN is a file path, memory://, libsql://, or postgres:// URL.
	// Empty means <data_dir>/tasksync.db.
	DSN     string `mapstructure:"dsn"`
	DataDir string `mapstructure:"data_dir" validate:"required"`
}

// SyncConfig tunes the sync service.
type SyncConfig struct {
	MaxPullLimit   int      `mapstructure:"max_pull_limit" validate:"gt=0"`
	Concurrency    int      `mapstructure:"concurrency" validate:"gt=0"`
	TiePolicy      string   `mapstructure:"tie_policy" validate:"omitempty,oneof=incoming_wins server_wins source_priority"`
	SourcePriority []string `mapstructure:"source_priority" validate:"dive,oneof=vault extension server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
}

// WatchConfig configures the vault watcher.
type WatchConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce" validate:"gte=0"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Sync: SyncConfig{
			MaxPullLimit: 100,
			Concurrency:  4,
			TiePolicy:    string(sync.TieIncomingWins),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tasksync"
	}
	return filepath.Join(home, ".tasksync")
}

// Load reads configuration. An explicit path must exist; otherwise
// tasksync.yaml is searched in the working directory and
// $HOME/.config/tasksync. A .env file in the working directory is loaded
// first so its values act as environment overrides.
func Load(path string) (*Config, error) {
	return Read(New(), path)
}

// Read is Load over a caller-prepared viper instance, typically one with
// command-line flags bound.
func Read(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tasksync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "tasksync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return Decode(v)
}

// New returns a viper instance with defaults and environment bindings set.
// Callers may bind flags to it before calling Decode.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("sync.max_pull_limit", d.Sync.MaxPullLimit)
	v.SetDefault("sync.concurrency", d.Sync.Concurrency)
	v.SetDefault("sync.tie_policy", d.Sync.TiePolicy)
	v.SetDefault("sync.source_priority", d.Sync.SourcePriority)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("watch.dir", d.Watch.Dir)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DSN returns the storage DSN, defaulting to a sqlite file in DataDir.
func (c *Config) DSN() string {
	if c.Storage.DSN != "" {
		return c.Storage.DSN
	}
	return filepath.Join(c.Storage.DataDir, "tasksync.db")
}

// LockPath is the file the server locks to own an embedded database.
func (c *Config) LockPath() string {
	return filepath.Join(c.Storage.DataDir, "tasksync.lock")
}

// SyncConfig converts the sync section into a service configuration.
func (c *Config) SyncConfig() (sync.Config, error) {
	policy, err := sync.ParseTiePolicy(c.Sync.TiePolicy)
	if err != nil {
		return sync.Config{}, err
	}

	order := make([]schema.Source, 0, len(c.Sync.SourcePriority))
	for _, raw := range c.Sync.SourcePriority {
		src, err := schema.ParseSource(raw)
		if err != nil {
			return sync.Config{}, err
		}
		order = append(order, src)
	}

	return sync.Config{
		MaxPullLimit:   c.Sync.MaxPullLimit,
		Concurrency:    c.Sync.Concurrency,
		TiePolicy:      policy,
		SourcePriority: order,
	}, nil
}
