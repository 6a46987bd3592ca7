// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/localnews-pipeline/internal/logging"
	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    logging.Config   `mapstructure:"logging"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Images     ImagesConfig     `mapstructure:"images"`
	Rewrite    RewriteConfig    `mapstructure:"rewrite"`
	Validation ValidationConfig `mapstructure:"validation"`
	Database   DatabaseConfig   `mapstructure:"database"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Sources    []SourceConfig   `mapstructure:"sources"`
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

// PipelineConfig governs orchestration of a run.
type PipelineConfig struct {
	Concurrency          int     `mapstructure:"concurrency"`
	BatchSize            int     `mapstructure:"batch_size"`
	PublishThreshold     float64 `mapstructure:"publish_threshold"`
	RejectBelow          float64 `mapstructure:"reject_below"`
	AutoPublish          bool    `mapstructure:"auto_publish"`
	MaxConsecutiveErrors int     `mapstructure:"max_consecutive_errors"`
	RunTimeoutSeconds    int     `mapstructure:"run_timeout_seconds"`
	Fingerprint          string  `mapstructure:"fingerprint"`
	EnrichFromArticle    bool    `mapstructure:"enrich_from_article"`
	EnrichMinChars       int     `mapstructure:"enrich_min_chars"`
	RetryLimit           int     `mapstructure:"retry_limit"`
}

// FeedConfig configures the syndication feed fetcher.
type FeedConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless browser page fetcher.
type HeadlessConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	MaxParallel      int    `mapstructure:"max_parallel"`
	NavTimeoutSec    int    `mapstructure:"nav_timeout_seconds"`
	ContainerWaitSec int    `mapstructure:"container_wait_seconds"`
	UserAgent        string `mapstructure:"user_agent"`
	MaxItems         int    `mapstructure:"max_items"`
}

// LocalStorageConfig configures the filesystem image backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ImagesConfig configures image capture and its object store.
type ImagesConfig struct {
	Backend        string              `mapstructure:"backend"`
	Bucket         string              `mapstructure:"bucket"`
	PublicBaseURL  string              `mapstructure:"public_base_url"`
	Local          LocalStorageConfig  `mapstructure:"local"`
	UserAgent      string              `mapstructure:"user_agent"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	MaxBytes       int                 `mapstructure:"max_bytes"`
	RetentionDays  int                 `mapstructure:"retention_days"`
	CacheControl   string              `mapstructure:"cache_control"`
	Defaults       map[string][]string `mapstructure:"defaults"`
}

// LinkConfig is one internal link inserted into rewritten bodies.
type LinkConfig struct {
	Phrase string `mapstructure:"phrase"`
	URL    string `mapstructure:"url"`
}

// RewriteConfig configures the generative rewrite stage.
type RewriteConfig struct {
	Provider       string       `mapstructure:"provider"`
	BaseURL        string       `mapstructure:"base_url"`
	APIKey         string       `mapstructure:"api_key"`
	Model          string       `mapstructure:"model"`
	Temperature    float64      `mapstructure:"temperature"`
	MaxTokens      int          `mapstructure:"max_tokens"`
	TimeoutSeconds int          `mapstructure:"timeout_seconds"`
	ContentBudget  int          `mapstructure:"content_budget"`
	MinWords       int          `mapstructure:"min_words"`
	Locality       string       `mapstructure:"locality"`
	LocalKeywords  []string     `mapstructure:"local_keywords"`
	InternalLinks  []LinkConfig `mapstructure:"internal_links"`
	MaxLinks       int          `mapstructure:"max_links"`
}

// ValidationConfig holds the publish-readiness thresholds.
type ValidationConfig struct {
	TitleMax      int      `mapstructure:"title_max"`
	MetaMax       int      `mapstructure:"meta_max"`
	ContentMin    int      `mapstructure:"content_min"`
	ExcerptMin    int      `mapstructure:"excerpt_min"`
	KeywordsMin   int      `mapstructure:"keywords_min"`
	LocalityTerms []string `mapstructure:"locality_terms"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScheduleConfig drives the in-process cron triggers.
type ScheduleConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Cron      string `mapstructure:"cron"`
	SweepCron string `mapstructure:"sweep_cron"`
}

// RateLimitConfig configures per-host outbound throttling.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// TelemetryConfig toggles OpenTelemetry tracing. A project ID exports spans to Cloud Trace.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SourceConfig seeds the in-memory store with sources for local runs.
type SourceConfig struct {
	ID                string         `mapstructure:"id"`
	Name              string         `mapstructure:"name"`
	Kind              string         `mapstructure:"type"`
	URL               string         `mapstructure:"url"`
	Selectors         news.Selectors `mapstructure:"selectors"`
	Disabled          bool           `mapstructure:"disabled"`
	FrequencyMinutes  int            `mapstructure:"frequency_minutes"`
	MaxArticlesPerRun int            `mapstructure:"max_articles_per_run"`
	PublishThreshold  *float64       `mapstructure:"publish_threshold"`
}

// Source converts the seed entry into a domain source.
func (s SourceConfig) Source() news.Source {
	return news.Source{
		ID:                s.ID,
		Name:              s.Name,
		Kind:              news.SourceKind(s.Kind),
		URL:               s.URL,
		Selectors:         s.Selectors,
		Active:            !s.Disabled,
		FrequencyMinutes:  s.FrequencyMinutes,
		MaxArticlesPerRun: s.MaxArticlesPerRun,
		PublishThreshold:  s.PublishThreshold,
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSPIPE")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.publish_threshold", 0.85)
	v.SetDefault("pipeline.reject_below", 0.0)
	v.SetDefault("pipeline.auto_publish", true)
	v.SetDefault("pipeline.max_consecutive_errors", 5)
	v.SetDefault("pipeline.run_timeout_seconds", 0)
	v.SetDefault("pipeline.fingerprint", "md5")
	v.SetDefault("pipeline.enrich_from_article", false)
	v.SetDefault("pipeline.enrich_min_chars", 400)
	v.SetDefault("pipeline.retry_limit", 10)

	v.SetDefault("feed.user_agent", "Mozilla/5.0 (compatible; GuideLyonBot/1.0; +https://guide-de-lyon.fr/bot)")
	v.SetDefault("feed.timeout_seconds", 20)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.container_wait_seconds", 10)
	v.SetDefault("headless.user_agent", "Mozilla/5.0 (compatible; GuideLyonBot/1.0; +https://guide-de-lyon.fr/bot)")
	v.SetDefault("headless.max_items", 10)

	v.SetDefault("images.backend", "memory")
	v.SetDefault("images.bucket", "")
	v.SetDefault("images.public_base_url", "")
	v.SetDefault("images.local.base_dir", "")
	v.SetDefault("images.user_agent", "Mozilla/5.0 (compatible; Guide-de-Lyon/1.0; +https://www.guide-de-lyon.fr)")
	v.SetDefault("images.timeout_seconds", 15)
	v.SetDefault("images.max_bytes", 10*1024*1024)
	v.SetDefault("images.retention_days", 30)
	v.SetDefault("images.cache_control", "public, max-age=3600")

	v.SetDefault("rewrite.provider", "openai")
	v.SetDefault("rewrite.base_url", "")
	v.SetDefault("rewrite.api_key", "")
	v.SetDefault("rewrite.model", "gpt-4-turbo-preview")
	v.SetDefault("rewrite.temperature", 0.7)
	v.SetDefault("rewrite.max_tokens", 2500)
	v.SetDefault("rewrite.timeout_seconds", 60)
	v.SetDefault("rewrite.content_budget", 3000)
	v.SetDefault("rewrite.min_words", 600)
	v.SetDefault("rewrite.locality", "Lyon")
	v.SetDefault("rewrite.max_links", 2)
	v.SetDefault("rewrite.local_keywords", []string{
		"Rhône", "Auvergne-Rhône-Alpes", "Grand Lyon", "Métropole de Lyon", "Presqu'île",
		"Croix-Rousse", "Vieux Lyon", "Part-Dieu", "Confluence", "Bellecour", "Fourvière",
		"Gerland", "Villeurbanne",
	})
	v.SetDefault("rewrite.internal_links", []map[string]any{
		{"phrase": "Lyon", "url": "/lyon"},
		{"phrase": "actualités", "url": "/actualites"},
		{"phrase": "événements", "url": "/evenements"},
		{"phrase": "culture lyonnaise", "url": "/culture"},
	})

	v.SetDefault("validation.title_max", 60)
	v.SetDefault("validation.meta_max", 160)
	v.SetDefault("validation.content_min", 1000)
	v.SetDefault("validation.excerpt_min", 50)
	v.SetDefault("validation.keywords_min", 3)
	v.SetDefault("validation.locality_terms", []string{"lyon", "rhône", "métropole", "lyonnais"})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.migrate", false)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "*/30 * * * *")
	v.SetDefault("schedule.sweep_cron", "0 3 * * *")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 2)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "localnews-pipeline")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > 10 {
		return fmt.Errorf("pipeline.batch_size must be between 1 and 10")
	}
	if c.Pipeline.PublishThreshold < 0 || c.Pipeline.PublishThreshold > 1 {
		return fmt.Errorf("pipeline.publish_threshold must be within [0,1]")
	}
	if c.Pipeline.RejectBelow < 0 || c.Pipeline.RejectBelow > c.Pipeline.PublishThreshold {
		return fmt.Errorf("pipeline.reject_below must be within [0,publish_threshold]")
	}
	switch c.Pipeline.Fingerprint {
	case "md5", "sha256":
	default:
		return fmt.Errorf("pipeline.fingerprint must be md5 or sha256")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Images.Backend {
	case "memory":
	case "gcs":
		if c.Images.Bucket == "" {
			return fmt.Errorf("images.bucket must be set for the gcs backend")
		}
	case "local":
		if c.Images.Local.BaseDir == "" {
			return fmt.Errorf("images.local.base_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("images.backend %q is not supported", c.Images.Backend)
	}
	switch c.Rewrite.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("rewrite.provider %q is not supported", c.Rewrite.Provider)
	}
	if c.Rewrite.ContentBudget <= 0 {
		return fmt.Errorf("rewrite.content_budget must be > 0")
	}
	for i, src := range c.Sources {
		if src.ID == "" || src.URL == "" {
			return fmt.Errorf("sources[%d] requires id and url", i)
		}
		if src.Kind != string(news.SourceKindFeed) && src.Kind != string(news.SourceKindPage) {
			return fmt.Errorf("sources[%d].type must be feed or page", i)
		}
	}
	return nil
}

// RunTimeout converts the run timeout into a duration. Zero means no deadline.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Pipeline.RunTimeoutSeconds) * time.Second
}

// Retention converts the image retention window into a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Images.RetentionDays) * 24 * time.Hour
}
