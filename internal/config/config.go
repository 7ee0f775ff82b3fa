// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Crawler      CrawlerConfig      `mapstructure:"crawler"`
	Robots       RobotsConfig       `mapstructure:"robots"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Index        IndexConfig        `mapstructure:"index"`
	Rank         RankConfig         `mapstructure:"rank"`
	Search       SearchConfig       `mapstructure:"search"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	DB           DBConfig           `mapstructure:"db"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// CrawlerConfig governs one crawl session.
type CrawlerConfig struct {
	Concurrency         int    `mapstructure:"concurrency"`
	MaxDepth            int    `mapstructure:"max_depth"`
	PageBudget          int    `mapstructure:"page_budget"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	PolitenessDelayMs   int    `mapstructure:"politeness_delay_ms"`
	RobotsAgent         string `mapstructure:"robots_agent"`
}

// RobotsConfig controls the robots.txt cache.
type RobotsConfig struct {
	TTLMinutes int `mapstructure:"ttl_minutes"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxRedirects   int      `mapstructure:"max_redirects"`
	MaxBodyBytes   int      `mapstructure:"max_body_bytes"`
	UserAgents     []string `mapstructure:"user_agents"`
}

// IndexConfig controls chunking and embedding batches.
type IndexConfig struct {
	ChunkChars   int `mapstructure:"chunk_chars"`
	MinTextChars int `mapstructure:"min_text_chars"`
	BatchSize    int `mapstructure:"batch_size"`
}

// RankConfig holds the hybrid blend.
type RankConfig struct {
	SemanticWeight float64 `mapstructure:"semantic_weight"`
	KeywordWeight  float64 `mapstructure:"keyword_weight"`
	MinScore       float64 `mapstructure:"min_score"`
}

// SearchConfig shapes search responses.
type SearchConfig struct {
	TopK                  int  `mapstructure:"top_k"`
	SummaryTopK           int  `mapstructure:"summary_top_k"`
	SummaryMaxChars       int  `mapstructure:"summary_max_chars"`
	SummaryTimeoutSeconds int  `mapstructure:"summary_timeout_seconds"`
	WikipediaFallback     bool `mapstructure:"wikipedia_fallback"`
}

// Capability providers.
const (
	ProviderNone   = "none"
	ProviderHTTP   = "http"
	ProviderGemini = "gemini"
)

// CapabilitiesConfig selects the embedding and summarization backend.
type CapabilitiesConfig struct {
	Provider       string `mapstructure:"provider"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	SummaryModel   string `mapstructure:"summary_model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Archive drivers.
const (
	DriverNone     = ""
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DBConfig controls the optional page and embedding archive.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional .env file, the environment and an
// optional config file. Environment variables use the KONDUIT_ prefix with
// dots replaced by underscores, e.g. KONDUIT_CRAWLER_PAGE_BUDGET.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("KONDUIT")
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
	cfg.Capabilities.Provider = strings.ToLower(strings.TrimSpace(cfg.Capabilities.Provider))
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.page_budget", 50)
	v.SetDefault("crawler.fetch_timeout_seconds", 15)
	v.SetDefault("crawler.politeness_delay_ms", 200)
	v.SetDefault("crawler.robots_agent", "konduit")
	v.SetDefault("robots.ttl_minutes", 60)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.max_body_bytes", 5<<20)
	v.SetDefault("index.chunk_chars", 300)
	v.SetDefault("index.min_text_chars", 50)
	v.SetDefault("index.batch_size", 32)
	v.SetDefault("rank.semantic_weight", 0.6)
	v.SetDefault("rank.keyword_weight", 0.4)
	v.SetDefault("rank.min_score", 0.0)
	v.SetDefault("search.top_k", 7)
	v.SetDefault("search.summary_top_k", 3)
	v.SetDefault("search.summary_max_chars", 12000)
	v.SetDefault("search.summary_timeout_seconds", 60)
	v.SetDefault("search.wikipedia_fallback", true)
	v.SetDefault("capabilities.provider", ProviderNone)
	v.SetDefault("capabilities.timeout_seconds", 15)
	v.SetDefault("db.driver", DriverNone)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PageBudget <= 0 || c.Crawler.PageBudget > 500 {
		return fmt.Errorf("crawler.page_budget must be within 1..500")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.RobotsAgent == "" {
		return fmt.Errorf("crawler.robots_agent must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Index.ChunkChars <= 0 || c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.chunk_chars and index.batch_size must be > 0")
	}
	if c.Rank.SemanticWeight < 0 || c.Rank.KeywordWeight < 0 || c.Rank.SemanticWeight+c.Rank.KeywordWeight == 0 {
		return fmt.Errorf("rank weights must be non-negative and not both zero")
	}
	switch c.Capabilities.Provider {
	case ProviderNone:
	case ProviderHTTP:
		if c.Capabilities.Endpoint == "" {
			return fmt.Errorf("capabilities.endpoint must be set for the http provider")
		}
	case ProviderGemini:
		if c.Capabilities.APIKey == "" {
			return fmt.Errorf("capabilities.api_key must be set for the gemini provider")
		}
	default:
		return fmt.Errorf("unknown capabilities.provider %q", c.Capabilities.Provider)
	}
	switch c.DB.Driver {
	case DriverNone, DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for driver %q", c.DB.Driver)
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	return nil
}

// Seconds converts a whole-second knob into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
