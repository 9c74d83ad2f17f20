// Package config loads the marksync client and server configuration.
//
// Precedence, highest wins:
//  1. MARKSYNC_* environment variables
//  2. The config file, YAML or JSON with comments by extension
//  3. Defaults
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/roach88/marksync/internal/store"
)

var (
	errUnknownFormat = errors.New("unknown config format")
	errInvalid       = errors.New("invalid config")
)

// Config holds every configuration option.
type Config struct {
	UserID   string         `yaml:"user_id" json:"user_id"` //nolint:tagliatelle // snake_case for config file
	API      APIConfig      `yaml:"api" json:"api"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Registry RegistryConfig `yaml:"registry" json:"registry"`
	Feed     FeedConfig     `yaml:"feed" json:"feed"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// APIConfig points at the remote data API.
type APIConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"` //nolint:tagliatelle
	Token   string `yaml:"token,omitempty" json:"token,omitempty"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

// StoreConfig selects the durable local store.
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
	DSN    string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// RegistryConfig bounds the model registries.
type RegistryConfig struct {
	IdleCapacity int `yaml:"idle_capacity" json:"idle_capacity"` //nolint:tagliatelle
}

// FeedConfig points at the invalidation feed. An empty URL disables it.
type FeedConfig struct {
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`
}

// Default returns a runnable configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: "30s",
		},
		Store: StoreConfig{
			Driver: string(store.DriverSQLite),
			Path:   "./marksync.db",
		},
		Registry: RegistryConfig{IdleCapacity: 32},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file at path, when non-empty, over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(&cfg, data, filepath.Ext(path)); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data into cfg, keeping fields the data does not set. ext
// selects the format: .yaml and .yml are YAML; .json, .jsonc and .hujson
// are JSON that may carry comments and trailing commas.
func Parse(cfg *Config, data []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("invalid YAML: %w", err)
		}
		return nil
	case ".json", ".jsonc", ".hujson":
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("invalid JSONC: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(standardized))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w %q", errUnknownFormat, ext)
	}
}

// Environment variables that override file settings.
const (
	EnvUserID       = "MARKSYNC_USER_ID"
	EnvAPIURL       = "MARKSYNC_API_URL"
	EnvAPIToken     = "MARKSYNC_API_TOKEN"
	EnvStoreDriver  = "MARKSYNC_STORE_DRIVER"
	EnvStorePath    = "MARKSYNC_STORE_PATH"
	EnvStoreDSN     = "MARKSYNC_STORE_DSN"
	EnvFeedURL      = "MARKSYNC_FEED_URL"
	EnvIdleCapacity = "MARKSYNC_IDLE_CAPACITY"
)

// ApplyEnv overrides fields from the environment variables lookup finds.
// An unparsable MARKSYNC_IDLE_CAPACITY is stored as -1 so Validate rejects
// it.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvUserID, &c.UserID)
	set(EnvAPIURL, &c.API.BaseURL)
	set(EnvAPIToken, &c.API.Token)
	set(EnvStoreDriver, &c.Store.Driver)
	set(EnvStorePath, &c.Store.Path)
	set(EnvStoreDSN, &c.Store.DSN)
	set(EnvFeedURL, &c.Feed.URL)

	if v, ok := lookup(EnvIdleCapacity); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n = -1
		}
		c.Registry.IdleCapacity = n
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch store.Driver(c.Store.Driver) {
	case store.DriverMemory, store.DriverSQLite, store.DriverFile:
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for the postgres driver", errInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", errInvalid, c.Store.Driver)
	}
	if c.Store.Driver == string(store.DriverFile) && c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required for the file driver", errInvalid)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("%w: api.base_url is empty", errInvalid)
	}
	if _, err := c.APITimeout(); err != nil {
		return fmt.Errorf("%w: api.timeout: %w", errInvalid, err)
	}
	if c.Registry.IdleCapacity < 0 {
		return fmt.Errorf("%w: registry.idle_capacity must not be negative", errInvalid)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", errInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", errInvalid, c.Log.Format)
	}
	return nil
}

// APITimeout parses api.timeout. Empty means no timeout.
func (c Config) APITimeout() (time.Duration, error) {
	if c.API.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

// LocalStore returns the local store settings in the store package's form.
func (c Config) LocalStore() store.Config {
	return store.Config{
		Driver: store.Driver(c.Store.Driver),
		Path:   c.Store.Path,
		DSN:    c.Store.DSN,
	}
}

// LogLevel returns log.level as a slog level. verbose forces Debug.
func (c Config) LogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
