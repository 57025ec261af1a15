// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pattadon/sitemark/internal/pipeline"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	OutputDir  string           `mapstructure:"output_dir"`
	UserAgent  string           `mapstructure:"user_agent"`
	Server     ServerConfig     `mapstructure:"server"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Sitemap    SitemapConfig    `mapstructure:"sitemap"`
	Native     NativeConfig     `mapstructure:"native"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Logging    LoggingConfig    `mapstructure:"logging"`

	// FileUsed is the config file actually read, empty when the run is on
	// defaults and environment only.
	FileUsed string `mapstructure:"-"`
}

// ServerConfig controls the metrics/health HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the raw HTTP transport.
type HTTPConfig struct {
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
	DelayMs        int  `mapstructure:"delay_ms"`
	RespectRobots  bool `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the browser rendering transport.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// SitemapConfig bounds sitemap discovery and expansion.
type SitemapConfig struct {
	MaxURLs  int `mapstructure:"max_urls"`
	MaxDepth int `mapstructure:"max_depth"`
}

// NativeConfig bounds the link-following fallback crawl.
type NativeConfig struct {
	MaxDepth    int `mapstructure:"max_depth"`
	MaxPages    int `mapstructure:"max_pages"`
	Concurrency int `mapstructure:"concurrency"`
}

// ClassifierConfig holds the domain whitelist and the default strategy for
// unmatched domains.
type ClassifierConfig struct {
	Default string       `mapstructure:"default"`
	Rules   []RuleConfig `mapstructure:"rules"`
}

// RuleConfig is one whitelist entry as it appears in the config file.
type RuleConfig struct {
	Domain   string `mapstructure:"domain"`
	Strategy string `mapstructure:"strategy"`
	Match    string `mapstructure:"match"`
}

// LoggingConfig selects the zap profile and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. An empty path loads defaults
// and environment only, so the binary runs without any config file. A path
// pointing at a missing file is not fatal either; FileUsed stays empty and
// defaults plus environment apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.FileUsed = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.FileUsed); err != nil {
		cfg.FileUsed = ""
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", "harvested")
	v.SetDefault("user_agent", "sitemark/0.1")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.delay_ms", 500)
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("sitemap.max_urls", 5000)
	v.SetDefault("sitemap.max_depth", 5)
	v.SetDefault("native.max_depth", 3)
	v.SetDefault("native.max_pages", 200)
	v.SetDefault("native.concurrency", 2)
	v.SetDefault("classifier.default", "raw")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output_dir must be set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Sitemap.MaxURLs <= 0 {
		return fmt.Errorf("sitemap.max_urls must be > 0")
	}
	if c.Sitemap.MaxDepth <= 0 {
		return fmt.Errorf("sitemap.max_depth must be > 0")
	}
	if _, ok := pipeline.ParseStrategy(c.Classifier.Default); !ok {
		return fmt.Errorf("classifier.default must be raw or rendered, got %q", c.Classifier.Default)
	}
	return nil
}

// WhitelistRules converts the configured entries into classifier rules.
// Invalid entries are logged and skipped rather than failing startup.
func (c Config) WhitelistRules(logger *zap.Logger) []pipeline.WhitelistRule {
	rules := make([]pipeline.WhitelistRule, 0, len(c.Classifier.Rules))
	for _, rc := range c.Classifier.Rules {
		strategy, ok := pipeline.ParseStrategy(rc.Strategy)
		if !ok {
			logger.Warn("Skipping whitelist rule with unknown strategy",
				zap.String("domain", rc.Domain), zap.String("strategy", rc.Strategy))
			continue
		}
		match := pipeline.MatchExact
		switch strings.ToLower(rc.Match) {
		case "", "exact":
		case "subdomain":
			match = pipeline.MatchSubdomain
		default:
			logger.Warn("Skipping whitelist rule with unknown match kind",
				zap.String("domain", rc.Domain), zap.String("match", rc.Match))
			continue
		}
		if strings.TrimSpace(rc.Domain) == "" {
			logger.Warn("Skipping whitelist rule with empty domain")
			continue
		}
		rules = append(rules, pipeline.WhitelistRule{
			Pattern:  rc.Domain,
			Strategy: strategy,
			Match:    match,
		})
	}
	return rules
}

// DefaultStrategy returns the parsed default fetch strategy.
func (c Config) DefaultStrategy() pipeline.FetchStrategy {
	strategy, _ := pipeline.ParseStrategy(c.Classifier.Default)
	return strategy
}

// HTTPTimeout converts the timeout knob into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestDelay converts the politeness delay knob into a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.HTTP.DelayMs) * time.Millisecond
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
