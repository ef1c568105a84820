// Package config loads process configuration: built-in defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yash/vesselwatch/internal/feed"
	"github.com/yash/vesselwatch/internal/ingest"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "VESSELWATCH_CONFIG"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds application configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Feed    FeedConfig    `yaml:"feed"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

// HTTPConfig configures the query API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
}

// Address returns host:port.
func (c HTTPConfig) Address() string {
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}

// FeedConfig configures the upstream AIS subscription.
type FeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	// APIKeyFile is read when APIKey is empty.
	APIKeyFile    string             `yaml:"api_key_file"`
	BoundingBoxes []feed.BoundingBox `yaml:"bounding_boxes"`
	ShipTypes     []string           `yaml:"ship_types"`
	BaseDelay     time.Duration      `yaml:"base_delay"`
	MaxAttempts   int                `yaml:"max_attempts"`
	Jitter        bool               `yaml:"jitter"`
	ReadTimeout   time.Duration      `yaml:"read_timeout"`
	Buffer        int                `yaml:"buffer"`
}

// ClientConfig converts to the feed client's configuration.
func (c FeedConfig) ClientConfig() feed.Config {
	fc := feed.DefaultConfig()
	fc.URL = c.URL
	fc.APIKey = c.APIKey
	if len(c.BoundingBoxes) > 0 {
		fc.BoundingBoxes = c.BoundingBoxes
	}
	if len(c.ShipTypes) > 0 {
		fc.ShipTypes = c.ShipTypes
	}
	fc.BaseDelay = c.BaseDelay
	fc.MaxAttempts = c.MaxAttempts
	fc.Jitter = c.Jitter
	fc.ReadTimeout = c.ReadTimeout
	return fc
}

// IngestConfig sizes the report pipeline.
type IngestConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	StagingTTL time.Duration `yaml:"staging_ttl"`
}

// ProcessorConfig converts to the processor's configuration.
func (c IngestConfig) ProcessorConfig() ingest.ProcessorConfig {
	return ingest.ProcessorConfig{Workers: c.Workers, QueueSize: c.QueueSize}
}

// StoreConfig selects the vessel store.
type StoreConfig struct {
	Driver    string `yaml:"driver"` // memory | sqlite
	DSN       string `yaml:"dsn"`
	SeedZones bool   `yaml:"seed_zones"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// RuntimeConfig tunes the Go runtime for small hosts. Zero values leave
// the runtime defaults alone.
type RuntimeConfig struct {
	MaxProcs      int `yaml:"max_procs"`
	GCPercent     int `yaml:"gc_percent"`
	MemoryLimitMB int `yaml:"memory_limit_mb"`
}

// Apply applies the settings to the running process.
func (c RuntimeConfig) Apply() {
	if c.MaxProcs > 0 {
		runtime.GOMAXPROCS(c.MaxProcs)
	}
	if c.GCPercent > 0 {
		debug.SetGCPercent(c.GCPercent)
	}
	if c.MemoryLimitMB > 0 {
		debug.SetMemoryLimit(int64(c.MemoryLimitMB) * 1024 * 1024)
	}
}

// Default returns the built-in configuration.
func Default() Config {
	fc := feed.DefaultConfig()
	pc := ingest.DefaultProcessorConfig()
	return Config{
		HTTP: HTTPConfig{Addr: "0.0.0.0", Port: 8080},
		Feed: FeedConfig{
			Enabled:       true,
			URL:           fc.URL,
			BoundingBoxes: fc.BoundingBoxes,
			ShipTypes:     fc.ShipTypes,
			BaseDelay:     fc.BaseDelay,
			MaxAttempts:   fc.MaxAttempts,
			ReadTimeout:   fc.ReadTimeout,
			Buffer:        1024,
		},
		Ingest: IngestConfig{
			Workers:    pc.Workers,
			QueueSize:  pc.QueueSize,
			StagingTTL: 6 * time.Hour,
		},
		Store: StoreConfig{Driver: "memory", DSN: "vesselwatch.db", SeedZones: true},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load builds the configuration from defaults, the YAML file named by
// VESSELWATCH_CONFIG (if set) and environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if cfg.Feed.APIKey == "" && cfg.Feed.APIKeyFile != "" {
		b, err := os.ReadFile(cfg.Feed.APIKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("reading api key file: %w", err)
		}
		cfg.Feed.APIKey = strings.TrimSpace(string(b))
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.Port = getEnvInt("HTTP_PORT", c.HTTP.Port)

	c.Feed.Enabled = getEnvBool("ENABLE_INGESTION", c.Feed.Enabled)
	c.Feed.URL = getEnv("AISSTREAM_URL", c.Feed.URL)
	c.Feed.APIKey = getEnv("AISSTREAM_API_KEY", c.Feed.APIKey)
	c.Feed.APIKeyFile = getEnv("AISSTREAM_API_KEY_FILE", c.Feed.APIKeyFile)
	c.Feed.BaseDelay = getEnvDuration("FEED_BASE_DELAY", c.Feed.BaseDelay)
	c.Feed.MaxAttempts = getEnvInt("FEED_MAX_ATTEMPTS", c.Feed.MaxAttempts)
	c.Feed.Jitter = getEnvBool("FEED_JITTER", c.Feed.Jitter)

	c.Ingest.Workers = getEnvInt("INGEST_WORKERS", c.Ingest.Workers)
	c.Ingest.QueueSize = getEnvInt("INGEST_QUEUE_SIZE", c.Ingest.QueueSize)
	c.Ingest.StagingTTL = getEnvDuration("STAGING_TTL", c.Ingest.StagingTTL)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("STORE_DSN", c.Store.DSN)
	c.Store.SeedZones = getEnvBool("SEED_ZONES", c.Store.SeedZones)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Runtime.MaxProcs = getEnvInt("GOMAXPROCS", c.Runtime.MaxProcs)
	c.Runtime.GCPercent = getEnvInt("GC_PERCENT", c.Runtime.GCPercent)
	c.Runtime.MemoryLimitMB = getEnvInt("MEMORY_LIMIT_MB", c.Runtime.MemoryLimitMB)
}

// Validate reports configuration that cannot start the process.
func (c Config) Validate() error {
	var errs []error
	if c.Feed.Enabled && c.Feed.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: ingestion enabled without AISSTREAM_API_KEY: %w", ErrInvalid, feed.ErrMissingToken))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: http port %d out of range", ErrInvalid, c.HTTP.Port))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("%w: sqlite store needs a dsn", ErrInvalid))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown store driver %q", ErrInvalid, c.Store.Driver))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Log.Format))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger described by c.Log.
func (c Config) Logger() *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, s)
	}
	return l, nil
}

// ---------------------------------------------------------------------------
// Environment helpers
// ---------------------------------------------------------------------------

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
