package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/vango-dev/hypercube/pkg/hypercube"
)

const (
	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultPath is the default websocket path.
	DefaultPath = "/"

	// DefaultMetricsPath is the default Prometheus endpoint.
	DefaultMetricsPath = "/metrics"
)

// Config is the server configuration.
type Config struct {
	// Address is the HTTP listen address.
	Address string `env:"HYPERCUBE_ADDRESS"`

	// Path is the websocket accept path.
	Path string `env:"HYPERCUBE_PATH"`

	// MetricsPath is the Prometheus endpoint. Empty disables it.
	MetricsPath string `env:"HYPERCUBE_METRICS_PATH"`

	// PingPeriod is the interval between server pings. Zero disables pings.
	PingPeriod time.Duration `env:"HYPERCUBE_PING_PERIOD"`

	// Timeout is how long to wait for a pong.
	Timeout time.Duration `env:"HYPERCUBE_TIMEOUT"`

	// WriteTimeout bounds every outbound write.
	WriteTimeout time.Duration `env:"HYPERCUBE_WRITE_TIMEOUT"`

	// MaxFrameSize limits inbound frames. Zero means no limit.
	MaxFrameSize int64 `env:"HYPERCUBE_MAX_FRAME_SIZE"`

	// AllowedOrigins lists Origin hosts accepted in addition to the request
	// host. "*" accepts any origin.
	AllowedOrigins []string `env:"HYPERCUBE_ALLOWED_ORIGINS" envSeparator:","`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"HYPERCUBE_SHUTDOWN_TIMEOUT"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"HYPERCUBE_LOG_LEVEL"`

	// LogFormat is text or json.
	LogFormat string `env:"HYPERCUBE_LOG_FORMAT"`
}

// fileConfig is the TOML shape. Durations are strings so they can be
// written as "30s".
type fileConfig struct {
	Address         string   `toml:"address"`
	Path            string   `toml:"path"`
	MetricsPath     string   `toml:"metrics_path"`
	PingPeriod      string   `toml:"ping_period"`
	Timeout         string   `toml:"timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	MaxFrameSize    int64    `toml:"max_frame_size"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
	LogLevel        string   `toml:"log_level"`
	LogFormat       string   `toml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Address:         DefaultAddress,
		Path:            DefaultPath,
		MetricsPath:     DefaultMetricsPath,
		Timeout:         15 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load resolves the configuration from defaults, the TOML file at path
// (skipped when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("load config: unknown keys: %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("address") {
		c.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("path") {
		c.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("metrics_path") {
		c.MetricsPath = strings.TrimSpace(raw.MetricsPath)
	}
	if meta.IsDefined("max_frame_size") {
		c.MaxFrameSize = raw.MaxFrameSize
	}
	if meta.IsDefined("allowed_origins") {
		c.AllowedOrigins = normalizeList(raw.AllowedOrigins)
	}
	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		c.LogFormat = strings.TrimSpace(raw.LogFormat)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ping_period", raw.PingPeriod, &c.PingPeriod},
		{"timeout", raw.Timeout, &c.Timeout},
		{"write_timeout", raw.WriteTimeout, &c.WriteTimeout},
		{"shutdown_timeout", raw.ShutdownTimeout, &c.ShutdownTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

// Validate reports every invalid setting, joined into one error.
func (c Config) Validate() error {
	var errs []error
	if c.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with /", c.Path))
	}
	if c.MetricsPath != "" {
		if !strings.HasPrefix(c.MetricsPath, "/") {
			errs = append(errs, fmt.Errorf("metrics_path %q must start with /", c.MetricsPath))
		} else if c.MetricsPath == c.Path {
			errs = append(errs, errors.New("metrics_path must differ from path"))
		}
	}
	if c.PingPeriod < 0 || c.Timeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.PingPeriod > 0 && c.Timeout <= c.PingPeriod {
		errs = append(errs, fmt.Errorf("timeout (%s) must be longer than ping_period (%s)", c.Timeout, c.PingPeriod))
	}
	if c.MaxFrameSize < 0 {
		errs = append(errs, errors.New("max_frame_size must not be negative"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Hypercube converts the configuration into a scope configuration.
func (c Config) Hypercube(logger *slog.Logger) *hypercube.Config {
	out := hypercube.DefaultConfig()
	out.PingPeriod = c.PingPeriod
	out.Timeout = c.Timeout
	out.WriteTimeout = c.WriteTimeout
	out.MaxFrameSize = c.MaxFrameSize
	out.Logger = logger
	if len(c.AllowedOrigins) > 0 {
		out.CheckOrigin = originChecker(c.AllowedOrigins)
	}
	return out
}

// NewLogger builds the slog logger described by the configuration.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return level, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
