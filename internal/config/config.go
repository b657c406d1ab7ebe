// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/newsloom/scraper/internal/engine"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig    `mapstructure:"server"`
	Engine  EngineConfig    `mapstructure:"engine"`
	HTTP    HTTPConfig      `mapstructure:"http"`
	Extract ExtractConfig   `mapstructure:"extract"`
	Storage StorageConfig   `mapstructure:"storage"`
	DB      DBConfig        `mapstructure:"db"`
	PubSub  PubSubConfig    `mapstructure:"pubsub"`
	Logging LoggingConfig   `mapstructure:"logging"`
	Sources []engine.Source `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// EngineConfig governs the orchestrator and crawl workers.
type EngineConfig struct {
	Dispatchers            int `mapstructure:"dispatchers"`
	JobQueueDepth          int `mapstructure:"job_queue_depth"`
	FetchConcurrency       int `mapstructure:"fetch_concurrency"`
	MaxArticlesPerSource   int `mapstructure:"max_articles_per_source"`
	DefaultCandidateMargin int `mapstructure:"default_candidate_margin"`
	SourceTimeoutSeconds   int `mapstructure:"source_timeout_seconds"`
}

// HTTPConfig configures fetch timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// ExtractConfig tunes the extraction strategy cascade.
type ExtractConfig struct {
	MinContentLength int `mapstructure:"min_content_length"`
	PageTextCap      int `mapstructure:"page_text_cap"`
	FilterMinLength  int `mapstructure:"filter_min_length"`
}

// StorageConfig sets paths and content types for blob archiving.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for downstream article notifications.
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
	v.SetDefault("engine.dispatchers", 2)
	v.SetDefault("engine.job_queue_depth", 16)
	v.SetDefault("engine.fetch_concurrency", 2)
	v.SetDefault("engine.max_articles_per_source", 100)
	v.SetDefault("engine.default_candidate_margin", 5)
	v.SetDefault("engine.source_timeout_seconds", 120)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.user_agent", "newsloom-scraper/0.1")
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("extract.min_content_length", 250)
	v.SetDefault("extract.page_text_cap", 10000)
	v.SetDefault("extract.filter_min_length", 20)
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Engine.Dispatchers <= 0 {
		return fmt.Errorf("engine.dispatchers must be > 0")
	}
	if c.Engine.FetchConcurrency <= 0 {
		return fmt.Errorf("engine.fetch_concurrency must be > 0")
	}
	if c.Engine.MaxArticlesPerSource <= 0 {
		return fmt.Errorf("engine.max_articles_per_source must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = true
		if src.FeedURL == "" {
			return fmt.Errorf("sources[%d].feed_url is required", i)
		}
	}
	return nil
}

// SourceTimeout converts the configured per-source deadline to a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Engine.SourceTimeoutSeconds) * time.Second
}

// FetchTimeout converts the configured HTTP timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Registry is a read-only view over the configured sources, keyed by ID.
type Registry struct {
	sources map[string]engine.Source
}

// NewRegistry builds a Registry from the configured source list.
func NewRegistry(sources []engine.Source) *Registry {
	m := make(map[string]engine.Source, len(sources))
	for _, src := range sources {
		m[src.ID] = src
	}
	return &Registry{sources: m}
}

// Get resolves a source by ID.
func (r *Registry) Get(id string) (engine.Source, bool) {
	src, ok := r.sources[id]
	return src, ok
}

// IDs returns every registered source ID.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	return ids
}
