package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
feed:
  url: https://feed.example.com/tokens
  api_key: file-key
  limit: 25
  request_timeout: 5s
monitor:
  poll_interval: 30s
  lookback: 2m
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://feed.example.com/tokens", cfg.Feed.URL)
	assert.Equal(t, "file-key", cfg.Feed.APIKey)
	assert.Equal(t, 25, cfg.Feed.Limit)
	assert.Equal(t, 5*time.Second, cfg.Feed.RequestTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.Monitor.PollInterval.Std())
	assert.Equal(t, 2*time.Minute, cfg.Monitor.Lookback.Std())
	assert.Equal(t, "debug", cfg.LogLevel)

	// Unspecified fields keep their defaults.
	assert.Equal(t, time.Hour, cfg.Monitor.SeenRetention.Std())
	assert.Equal(t, 4096, cfg.Monitor.SeenCapacity)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
feed:
  url: https://feed.example.com/tokens
  api_key: file-key
`)
	t.Setenv("FEED_URL", "https://override.example.com/tokens")
	t.Setenv("FEED_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com/tokens", cfg.Feed.URL)
	assert.Equal(t, "env-key", cfg.Feed.APIKey)
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Setenv("FEED_URL", "https://feed.example.com/tokens")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://feed.example.com/tokens", cfg.Feed.URL)
	assert.Equal(t, 60*time.Second, cfg.Monitor.PollInterval.Std())
}

func TestLoadMissingFeedURL(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad url":       "feed:\n  url: not-a-url\n",
		"zero limit":    "feed:\n  url: https://feed.example.com\n  limit: 0\n",
		"bad log level": "feed:\n  url: https://feed.example.com\nlog_level: loud\n",
		"bad duration":  "feed:\n  url: https://feed.example.com\n  request_timeout: fast\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`90s`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	assert.Error(t, yaml.Unmarshal([]byte(`ninety`), &d))
}
