// Package config holds all phishscan configuration, loaded from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all phishscan configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Headless browser
	Browser BrowserConfig `yaml:"browser"`

	// Threat intelligence feeds
	Intel IntelConfig `yaml:"intel"`

	// URL/QR/email scoring
	Scanner ScannerConfig `yaml:"scanner"`

	// Optional LLM risk assessor
	AI AIConfig `yaml:"ai"`

	// Scan history persistence
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// BrowserConfig configures the headless Chrome instance.
type BrowserConfig struct {
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"`
	Headless            bool     `yaml:"headless"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
	SettleMs            int      `yaml:"settle_ms"`
}

// IntelConfig configures external threat intelligence sources.
type IntelConfig struct {
	SafeBrowsingAPIKey string `yaml:"safe_browsing_api_key"`
	OpenPhishFeedURL   string `yaml:"openphish_feed_url"`
	RefreshInterval    string `yaml:"refresh_interval"`
	// LocalFeedPath is an optional newline-delimited blocklist merged into
	// the OpenPhish feed and hot-reloaded on change.
	LocalFeedPath string `yaml:"local_feed_path"`
}

// ScannerConfig configures verdict thresholds and limits.
type ScannerConfig struct {
	PhishingThreshold   int    `yaml:"phishing_threshold"`
	SuspiciousThreshold int    `yaml:"suspicious_threshold"`
	CheckTimeout        string `yaml:"check_timeout"`
	MaxRedirects        int    `yaml:"max_redirects"`
	MaxEmailURLs        int    `yaml:"max_email_urls"`
}

// AIConfig configures the optional Gemini risk assessor.
// The assessor is disabled when APIKey is empty.
type AIConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// HistoryConfig configures the scan history store.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "phishscan",
		Version: "0.1.0",

		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     "30s",
			WriteTimeout:    "120s",
			ShutdownTimeout: "10s",
		},

		Browser: BrowserConfig{
			Headless:            true,
			ViewportWidth:       1280,
			ViewportHeight:      720,
			NavigationTimeoutMs: 10000,
			SettleMs:            1000,
		},

		Intel: IntelConfig{
			OpenPhishFeedURL: "https://openphish.com/feed.txt",
			RefreshInterval:  "1h",
		},

		Scanner: ScannerConfig{
			PhishingThreshold:   60,
			SuspiciousThreshold: 30,
			CheckTimeout:        "10s",
			MaxRedirects:        10,
			MaxEmailURLs:        20,
		},

		AI: AIConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "30s",
		},

		History: HistoryConfig{
			DatabasePath: "data/phishscan.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Listener port: the container runtime contract says PORT wins
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}

	// Safe Browsing key (short form checked first, long form wins)
	if key := os.Getenv("GSB_API_KEY"); key != "" {
		c.Intel.SafeBrowsingAPIKey = key
	}
	if key := os.Getenv("GOOGLE_SAFE_BROWSING_API_KEY"); key != "" {
		c.Intel.SafeBrowsingAPIKey = key
	}

	if url := os.Getenv("OPENPHISH_FEED_URL"); url != "" {
		c.Intel.OpenPhishFeedURL = url
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.AI.APIKey = key
		if c.AI.Provider == "" {
			c.AI.Provider = "gemini"
		}
	}

	// Database path from environment
	if path := os.Getenv("PHISHSCAN_DB"); path != "" {
		c.History.DatabasePath = path
	}
}

// ReadTimeoutDuration returns the server read timeout as a duration.
func (c *ServerConfig) ReadTimeoutDuration() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// WriteTimeoutDuration returns the server write timeout as a duration.
func (c *ServerConfig) WriteTimeoutDuration() time.Duration {
	return parseDuration(c.WriteTimeout, 120*time.Second)
}

// ShutdownTimeoutDuration returns the graceful shutdown budget.
func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.ShutdownTimeout, 10*time.Second)
}

// NavigationTimeout returns the browser navigation timeout.
func (c *BrowserConfig) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// SettleWait returns how long to wait after load before capturing.
func (c *BrowserConfig) SettleWait() time.Duration {
	if c.SettleMs <= 0 {
		return time.Second
	}
	return time.Duration(c.SettleMs) * time.Millisecond
}

// RefreshIntervalDuration returns the feed refresh interval.
func (c *IntelConfig) RefreshIntervalDuration() time.Duration {
	return parseDuration(c.RefreshInterval, time.Hour)
}

// CheckTimeoutDuration returns the per-check timeout for external lookups.
func (c *ScannerConfig) CheckTimeoutDuration() time.Duration {
	return parseDuration(c.CheckTimeout, 10*time.Second)
}

// TimeoutDuration returns the AI call timeout.
func (c *AIConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
