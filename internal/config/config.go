// Package config loads monitor configuration from a YAML file with
// environment overrides for secrets. A .env file, when present, is loaded
// into the environment first.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "60s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// FeedConfig configures the upstream token feed.
type FeedConfig struct {
	URL             string   `yaml:"url" validate:"required,url"`
	APIKey          string   `yaml:"api_key"`
	StreamURL       string   `yaml:"stream_url" validate:"omitempty,url"`
	Limit           int      `yaml:"limit" validate:"gt=0"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec" validate:"gt=0"`
	RateLimitBurst  int      `yaml:"rate_limit_burst" validate:"gt=0"`
}

// MonitorConfig configures the polling loop and freshness tracking.
type MonitorConfig struct {
	PollInterval  Duration `yaml:"poll_interval"`
	Lookback      Duration `yaml:"lookback"`
	EmptyAdvance  Duration `yaml:"empty_advance"`
	SeenRetention Duration `yaml:"seen_retention"`
	SeenCapacity  int      `yaml:"seen_capacity" validate:"gt=0"`
	Parallelism   int      `yaml:"parallelism" validate:"gt=0"`

	RetryMaxAttempts      int      `yaml:"retry_max_attempts" validate:"gt=0"`
	RetryBaseDelay        Duration `yaml:"retry_base_delay"`
	RetryMaxDelay         Duration `yaml:"retry_max_delay"`
	RateLimitDefaultDelay Duration `yaml:"rate_limit_default_delay"`
	RateLimitSafetyMargin Duration `yaml:"rate_limit_safety_margin"`
}

// Config is the full monitor configuration.
type Config struct {
	Feed        FeedConfig    `yaml:"feed"`
	Monitor     MonitorConfig `yaml:"monitor"`
	MetricsAddr string        `yaml:"metrics_addr"`
	LogLevel    string        `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns the configuration defaults. The feed URL has no default
// and must come from the file or environment.
func Default() Config {
	return Config{
		Feed: FeedConfig{
			Limit:           100,
			RequestTimeout:  Duration(10 * time.Second),
			RateLimitPerSec: 2,
			RateLimitBurst:  1,
		},
		Monitor: MonitorConfig{
			PollInterval:          Duration(60 * time.Second),
			Lookback:              Duration(1 * time.Minute),
			EmptyAdvance:          Duration(5 * time.Second),
			SeenRetention:         Duration(1 * time.Hour),
			SeenCapacity:          4096,
			Parallelism:           4,
			RetryMaxAttempts:      3,
			RetryBaseDelay:        Duration(2 * time.Second),
			RetryMaxDelay:         Duration(30 * time.Second),
			RateLimitDefaultDelay: Duration(5 * time.Second),
			RateLimitSafetyMargin: Duration(500 * time.Millisecond),
		},
		MetricsAddr: ":9090",
		LogLevel:    "info",
	}
}

// Load reads the config file at path (optional), applies environment
// overrides, and validates the result. Recognized environment variables:
// FEED_URL, FEED_API_KEY, FEED_STREAM_URL.
func Load(path string) (*Config, error) {
	// Missing .env is fine; it is a development convenience.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("FEED_API_KEY"); v != "" {
		cfg.Feed.APIKey = v
	}
	if v := os.Getenv("FEED_STREAM_URL"); v != "" {
		cfg.Feed.StreamURL = v
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
