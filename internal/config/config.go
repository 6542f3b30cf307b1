// Package config loads the daemon configuration from ~/.icnswitch/config.yaml.
// Values are layered: built-in defaults, then the file, then ICNSWITCH_*
// environment variables, then command-line flags the user actually set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DefaultStopTimeout = 10 * time.Second
	DefaultRateLimit   = 20.0
	DefaultRateBurst   = 40
)

// Config holds persistent daemon configuration.
type Config struct {
	APIAddr     string  `yaml:"api_addr"` // optional TCP listener in addition to the unix socket
	LogLevel    string  `yaml:"log_level"`
	LogFormat   string  `yaml:"log_format"`
	LogJournal  bool    `yaml:"log_journal"`
	StopTimeout string  `yaml:"stop_timeout"`
	AuditLog    string  `yaml:"audit_log"`
	RateLimit   float64 `yaml:"rate_limit"` // API requests per second; 0 disables the limiter
	RateBurst   int     `yaml:"rate_burst"`
	RunDir      string  `yaml:"run_dir"` // rendered configs; default ~/.icnswitch/run
}

// Home returns the icnswitch state directory: $ICNSWITCH_HOME or ~/.icnswitch.
func Home() string {
	if dir := os.Getenv("ICNSWITCH_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".icnswitch"
	}
	return filepath.Join(home, ".icnswitch")
}

// DefaultPath returns the default config file path: ~/.icnswitch/config.yaml.
func DefaultPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// SpecDir is where service specs live.
func SpecDir() string { return filepath.Join(Home(), "services") }

// PrefsDir is where per-service preference files live.
func PrefsDir() string { return filepath.Join(Home(), "prefs") }

// SocketPath is the daemon's unix socket.
func SocketPath() string { return filepath.Join(Home(), "icnswitch.sock") }

// StatePath is where running workers are recorded for adoption.
func StatePath() string { return filepath.Join(Home(), "state.json") }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "text",
		StopTimeout: DefaultStopTimeout.String(),
		AuditLog:    filepath.Join(Home(), "audit.log"),
		RateLimit:   DefaultRateLimit,
		RateBurst:   DefaultRateBurst,
		RunDir:      filepath.Join(Home(), "run"),
	}
}

// Load reads a YAML config file from path over the defaults. If the file
// does not exist, the defaults are returned with no error. An empty or
// all-comment file also leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be checked by the YAML decoder.
func (c *Config) Validate() error {
	if _, err := c.StopTimeoutDuration(); err != nil {
		return err
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.RateBurst < 0 {
		return fmt.Errorf("rate_burst must not be negative")
	}
	return nil
}

// StopTimeoutDuration parses StopTimeout, falling back to the default.
func (c *Config) StopTimeoutDuration() (time.Duration, error) {
	if c.StopTimeout == "" {
		return DefaultStopTimeout, nil
	}
	d, err := time.ParseDuration(c.StopTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid stop_timeout %q: %w", c.StopTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("stop_timeout must be positive")
	}
	return d, nil
}

// ApplyEnv overrides values from ICNSWITCH_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("ICNSWITCH_API_ADDR"); ok {
		c.APIAddr = v
	}
	if v, ok := os.LookupEnv("ICNSWITCH_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("ICNSWITCH_LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := os.LookupEnv("ICNSWITCH_LOG_JOURNAL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ICNSWITCH_LOG_JOURNAL: %w", err)
		}
		c.LogJournal = b
	}
	if v, ok := os.LookupEnv("ICNSWITCH_STOP_TIMEOUT"); ok {
		c.StopTimeout = v
	}
	return c.Validate()
}

// RegisterFlags adds the daemon flags to fs, with defaults taken from c.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.String("api-addr", c.APIAddr, "also listen on this TCP address (e.g. 127.0.0.1:9090)")
	fs.String("log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.String("log-format", c.LogFormat, "log format: text or json")
	fs.Bool("log-journal", c.LogJournal, "also log to the systemd journal")
	fs.String("stop-timeout", c.StopTimeout, "graceful stop timeout before SIGKILL")
	fs.Float64("rate-limit", c.RateLimit, "API requests per second (0 disables)")
}

// ApplyFlags copies every flag the user explicitly set into c. Flags left at
// their defaults never override file or environment values.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "api-addr":
			c.APIAddr = f.Value.String()
		case "log-level":
			c.LogLevel = f.Value.String()
		case "log-format":
			c.LogFormat = f.Value.String()
		case "log-journal":
			c.LogJournal, err = strconv.ParseBool(f.Value.String())
		case "stop-timeout":
			c.StopTimeout = f.Value.String()
		case "rate-limit":
			c.RateLimit, err = strconv.ParseFloat(f.Value.String(), 64)
		}
	})
	if err != nil {
		return err
	}
	return c.Validate()
}
