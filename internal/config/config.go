// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
	Chunking    ChunkingConfig    `mapstructure:"chunking"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Cache       CacheConfig       `mapstructure:"cache"`
	DB          DBConfig          `mapstructure:"db"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs fetch and frontier behavior.
type CrawlerConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	MaxPagesDefault  int     `mapstructure:"max_pages_default"`
	QueueDepth       int     `mapstructure:"queue_depth"`
	DomainRPS        float64 `mapstructure:"domain_rps"`
}

// ConcurrencyConfig bounds the adaptive fetch worker pool.
type ConcurrencyConfig struct {
	Min             int     `mapstructure:"min"`
	Max             int     `mapstructure:"max"`
	Step            int     `mapstructure:"step"`
	LowWatermarkMB  float64 `mapstructure:"low_watermark_mb"`
	HighWatermarkMB float64 `mapstructure:"high_watermark_mb"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	PromoteThresh int  `mapstructure:"promotion_threshold"`
}

// ExtractionConfig gates what counts as a usable page.
type ExtractionConfig struct {
	MinWordCount int `mapstructure:"min_word_count"`
}

// ChunkingConfig controls the semantic splitter.
type ChunkingConfig struct {
	TargetTokens  int `mapstructure:"target_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens"`
}

// EmbeddingConfig describes the external embedding service.
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimension  int    `mapstructure:"dimension"`
	BatchSize  int    `mapstructure:"batch_size"`
	MaxRetries int    `mapstructure:"max_retries"`
	QueueDepth int    `mapstructure:"queue_depth"`
}

// CacheConfig controls the versioned retrieval cache.
type CacheConfig struct {
	Backend     string `mapstructure:"backend"`
	Namespace   string `mapstructure:"namespace"`
	Version     int    `mapstructure:"version"`
	TTLSeconds  int    `mapstructure:"ttl_seconds"`
	MaxEntries  int    `mapstructure:"max_entries"`
	RedisAddr   string `mapstructure:"redis_addr"`
	OpTimeoutMs int    `mapstructure:"op_timeout_ms"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// StorageConfig sets paths and content types for raw HTML archival.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent", "storechat-bot/1.0 (+https://storechat.dev/bot)")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.backoff_initial_ms", 250)
	v.SetDefault("crawler.backoff_max_ms", 5000)
	v.SetDefault("crawler.max_pages_default", 100)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.domain_rps", 2)
	v.SetDefault("concurrency.min", 1)
	v.SetDefault("concurrency.max", 8)
	v.SetDefault("concurrency.step", 1)
	v.SetDefault("concurrency.low_watermark_mb", 512)
	v.SetDefault("concurrency.high_watermark_mb", 1024)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("extraction.min_word_count", 25)
	v.SetDefault("chunking.target_tokens", 400)
	v.SetDefault("chunking.overlap_tokens", 50)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.batch_size", 50)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.queue_depth", 1000)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.namespace", "retrieval")
	v.SetDefault("cache.version", 1)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.op_timeout_ms", 250)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "data/pages")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Concurrency.Min <= 0 {
		return fmt.Errorf("concurrency.min must be > 0")
	}
	if c.Concurrency.Max < c.Concurrency.Min {
		return fmt.Errorf("concurrency.max must be >= concurrency.min")
	}
	if c.Concurrency.HighWatermarkMB <= c.Concurrency.LowWatermarkMB {
		return fmt.Errorf("concurrency.high_watermark_mb must be > concurrency.low_watermark_mb")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Chunking.TargetTokens <= 0 {
		return fmt.Errorf("chunking.target_tokens must be > 0")
	}
	if c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		return fmt.Errorf("chunking.overlap_tokens must be < chunking.target_tokens")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be > 0")
	}
	if c.Cache.Version <= 0 {
		return fmt.Errorf("cache.version must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be > 0")
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr must be set when cache.backend is redis")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout converts the crawler timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// CacheTTL converts the cache TTL config into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
