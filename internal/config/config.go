// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Download  DownloadConfig  `mapstructure:"download"`
	DB        DBConfig        `mapstructure:"db"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CrawlConfig governs the job orchestrator.
type CrawlConfig struct {
	GuideName          string `mapstructure:"guide_name"`
	GuideURL           string `mapstructure:"guide_url"`
	Level              string `mapstructure:"level"`
	MaxConsecutiveFail int    `mapstructure:"max_consecutive_failures"`
	UserAgent          string `mapstructure:"user_agent"`
}

// BrowserConfig configures the chromedp session.
type BrowserConfig struct {
	Headless      bool `mapstructure:"headless"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	DownloadWait  int  `mapstructure:"download_wait_seconds"`
}

// DiscoveryConfig bounds the wine-list discovery engine.
type DiscoveryConfig struct {
	MaxDepth       int `mapstructure:"max_depth"`
	MaxPages       int `mapstructure:"max_pages"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// PlatformConfig configures the external-platform resolver.
type PlatformConfig struct {
	Domains        []string `mapstructure:"domains"`
	SearchURL      string   `mapstructure:"search_url"`
	PassDelayMs    int      `mapstructure:"pass_delay_ms"`
	ResultsPerPass int      `mapstructure:"results_per_pass"`
}

// OracleConfig toggles the LLM-guided candidate ranking fallback.
type OracleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	MaxPages int    `mapstructure:"max_pages"`
}

// DownloadConfig sets where wine list files land.
type DownloadConfig struct {
	Dir            string `mapstructure:"dir"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// APIConfig controls the metrics/status HTTP listener.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WINECRAWL")
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
	v.SetDefault("crawl.guide_name", "Michelin Guide USA")
	v.SetDefault("crawl.guide_url", "https://guide.michelin.com/us/en/selection/united-states/restaurants")
	v.SetDefault("crawl.level", "3")
	v.SetDefault("crawl.max_consecutive_failures", 3)
	v.SetDefault("crawl.user_agent", "winecrawl/1.0 (+https://github.com/winerank/winecrawl)")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.download_wait_seconds", 20)
	v.SetDefault("discovery.max_depth", 4)
	v.SetDefault("discovery.max_pages", 20)
	v.SetDefault("discovery.timeout_seconds", 30)
	v.SetDefault("platform.domains", []string{
		"hub.binwise.com",
		"bw-winelist",
		"starwinelist.com",
	})
	v.SetDefault("platform.search_url", "https://www.google.com/search")
	v.SetDefault("platform.pass_delay_ms", 2000)
	v.SetDefault("platform.results_per_pass", 5)
	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.provider", "openai")
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.max_pages", 4)
	v.SetDefault("download.dir", "data/downloads")
	v.SetDefault("download.timeout_seconds", 30)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.MaxConsecutiveFail <= 0 {
		return fmt.Errorf("crawl.max_consecutive_failures must be > 0")
	}
	if c.Discovery.MaxDepth <= 0 {
		return fmt.Errorf("discovery.max_depth must be > 0")
	}
	if c.Discovery.MaxPages <= 0 {
		return fmt.Errorf("discovery.max_pages must be > 0")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Oracle.Enabled && c.Oracle.APIKey == "" && c.Oracle.Provider != "ollama" {
		return fmt.Errorf("oracle.api_key must be set when oracle is enabled")
	}
	if c.API.Enabled && c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0 when api is enabled")
	}
	return nil
}

// NavTimeout returns the browser navigation timeout as a duration.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// DownloadTimeout returns the wait budget for browser-triggered downloads.
func (c BrowserConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadWait) * time.Second
}
