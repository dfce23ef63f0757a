// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	MaxBatchURLs          int `mapstructure:"max_batch_urls"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig holds the default per-call options and pipeline knobs.
type ScraperConfig struct {
	UserAgent     string  `mapstructure:"user_agent"`
	DelaySeconds  float64 `mapstructure:"delay_seconds"`
	MaxLinks      int     `mapstructure:"max_links"`
	MaxImages     int     `mapstructure:"max_images"`
	TextLength    int     `mapstructure:"text_length"`
	RespectRobots bool    `mapstructure:"respect_robots"`
	Render        string  `mapstructure:"render"`
	Concurrency   int     `mapstructure:"concurrency"`
	MaxBodyBytes  int     `mapstructure:"max_body_bytes"`
	ArchiveRaw    bool    `mapstructure:"archive_raw"`
}

// HTTPConfig configures the static fetcher and its retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	MaxRPSPerOrigin  float64 `mapstructure:"max_rps_per_origin"`
}

// RobotsConfig configures robots.txt retrieval.
type RobotsConfig struct {
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects where exports and raw archives are written.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database. An empty DSN keeps
// records in memory.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig points the shared politeness clock at Redis. An empty Addr
// keeps it in process.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry sampling.
type TracingConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.max_batch_urls", 100)
	v.SetDefault("scraper.user_agent", "page-scraper/1.0 (+https://github.com/JakeFAU/page-scraper)")
	v.SetDefault("scraper.delay_seconds", scraper.DefaultDelaySeconds)
	v.SetDefault("scraper.max_links", scraper.DefaultMaxLinks)
	v.SetDefault("scraper.max_images", scraper.DefaultMaxImages)
	v.SetDefault("scraper.text_length", scraper.DefaultTextLength)
	v.SetDefault("scraper.respect_robots", true)
	v.SetDefault("scraper.render", string(scraper.RenderAuto))
	v.SetDefault("scraper.concurrency", 4)
	v.SetDefault("scraper.max_body_bytes", 10<<20)
	v.SetDefault("scraper.archive_raw", false)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.max_rps_per_origin", 0)
	v.SetDefault("robots.timeout_seconds", 10)
	v.SetDefault("robots.cache_ttl_seconds", 600)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "output")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.table", "pages")
	v.SetDefault("redis.key_prefix", "page-scraper:")
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.DelaySeconds < 0 {
		return fmt.Errorf("scraper.delay_seconds must be >= 0")
	}
	if c.Scraper.MaxLinks < 0 || c.Scraper.MaxImages < 0 || c.Scraper.TextLength < 0 {
		return fmt.Errorf("scraper.max_links, scraper.max_images and scraper.text_length must be >= 0")
	}
	if _, err := scraper.ParseRenderMode(c.Scraper.Render); err != nil {
		return fmt.Errorf("scraper.render: %w", err)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Provider {
	case "local":
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir must be set for the local provider")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider must be one of local, gcs, memory")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// ScrapeDefaults converts the scraper section into per-call default options.
func (c Config) ScrapeDefaults() scraper.Options {
	mode, err := scraper.ParseRenderMode(c.Scraper.Render)
	if err != nil {
		mode = scraper.RenderAuto
	}
	return scraper.Options{
		DelaySeconds:  c.Scraper.DelaySeconds,
		MaxLinks:      c.Scraper.MaxLinks,
		MaxImages:     c.Scraper.MaxImages,
		TextLength:    c.Scraper.TextLength,
		RespectRobots: c.Scraper.RespectRobots,
		Render:        mode,
	}.Normalize()
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
