package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "storechat-bot/1.0 (+https://storechat.dev/bot)", cfg.Crawler.UserAgent)
	require.Equal(t, 100, cfg.Crawler.MaxPagesDefault)
	require.Equal(t, 1, cfg.Concurrency.Min)
	require.Equal(t, 8, cfg.Concurrency.Max)
	require.Equal(t, 400, cfg.Chunking.TargetTokens)
	require.Equal(t, 50, cfg.Chunking.OverlapTokens)
	require.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	require.Equal(t, 1536, cfg.Embedding.Dimension)
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.Equal(t, 15*time.Second, cfg.FetchTimeout())
	require.Equal(t, time.Hour, cfg.CacheTTL())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
crawler:
  max_pages_default: 250
cache:
  backend: redis
  redis_addr: localhost:6379
  version: 4
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 250, cfg.Crawler.MaxPagesDefault)
	require.Equal(t, "redis", cfg.Cache.Backend)
	require.Equal(t, 4, cfg.Cache.Version)
	// Untouched sections keep their defaults.
	require.Equal(t, 50, cfg.Embedding.BatchSize)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"min above max", func(c *Config) { c.Concurrency.Min = 9; c.Concurrency.Max = 8 }},
		{"inverted watermarks", func(c *Config) { c.Concurrency.HighWatermarkMB = 100; c.Concurrency.LowWatermarkMB = 200 }},
		{"overlap at target", func(c *Config) { c.Chunking.OverlapTokens = c.Chunking.TargetTokens }},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.RedisAddr = "" }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"headless without parallelism", func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, base.Validate())
}
