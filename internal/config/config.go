package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/genloop-ai/genloop/internal/consts"
)

// AnthropicConfig holds Anthropic API configuration
type AnthropicConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
}

// SearchConfig holds configuration for the web search tool
type SearchConfig struct {
	APIKey     string `json:"api_key"`
	Endpoint   string `json:"endpoint,omitempty"`
	NumResults int    `json:"num_results,omitempty"`
}

// Config is the root configuration for the generation core
type Config struct {
	LogLevel     string `json:"log_level"`
	LogPath      string `json:"log_path,omitempty"`
	DatabasePath string `json:"database_path,omitempty"`

	// Loop timing. The cancel check interval must stay below the write
	// throttle interval; Load enforces this.
	CancelCheckIntervalMs   int `json:"cancel_check_interval_ms"`
	WriteThrottleIntervalMs int `json:"write_throttle_interval_ms"`

	MaxOutputTokens int `json:"max_output_tokens"`

	Anthropic AnthropicConfig `json:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Search    SearchConfig    `json:"search"`

	// Per-tool wall clock limits in seconds, keyed by tool name.
	ToolTimeoutsSeconds       map[string]int `json:"tool_timeouts_seconds,omitempty"`
	DefaultToolTimeoutSeconds int            `json:"default_tool_timeout_seconds,omitempty"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		LogLevel:                "info",
		CancelCheckIntervalMs:   int(consts.DefaultCancelCheckInterval / time.Millisecond),
		WriteThrottleIntervalMs: int(consts.DefaultWriteThrottleInterval / time.Millisecond),
		MaxOutputTokens:         consts.DefaultMaxOutputTokens,
		ToolTimeoutsSeconds: map[string]int{
			"webSearch":      20,
			"searchAll":      10,
			"calculator":     5,
			"getCurrentTime": 5,
		},
		DefaultToolTimeoutSeconds: int(consts.DefaultToolTimeout / time.Second),
	}
}

// Load reads a config file, fills defaults, and applies env overrides.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

// Save writes the config as indented JSON
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("GENLOOP_SEARCH_API_KEY"); v != "" {
		c.Search.APIKey = v
	}
	if v := os.Getenv("GENLOOP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) fillDefaults() {
	if c.CancelCheckIntervalMs <= 0 {
		c.CancelCheckIntervalMs = int(consts.DefaultCancelCheckInterval / time.Millisecond)
	}
	if c.WriteThrottleIntervalMs <= 0 {
		c.WriteThrottleIntervalMs = int(consts.DefaultWriteThrottleInterval / time.Millisecond)
	}
	// Stop latency must not be gated by write throttling.
	if c.CancelCheckIntervalMs > c.WriteThrottleIntervalMs {
		c.CancelCheckIntervalMs = c.WriteThrottleIntervalMs
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = consts.DefaultMaxOutputTokens
	}
	if c.DefaultToolTimeoutSeconds <= 0 {
		c.DefaultToolTimeoutSeconds = int(consts.DefaultToolTimeout / time.Second)
	}
	if c.Search.NumResults <= 0 {
		c.Search.NumResults = 10
	}
}

// CancelCheckInterval returns the cancellation polling interval
func (c *Config) CancelCheckInterval() time.Duration {
	return time.Duration(c.CancelCheckIntervalMs) * time.Millisecond
}

// WriteThrottleInterval returns the minimum gap between partial persistence writes
func (c *Config) WriteThrottleInterval() time.Duration {
	return time.Duration(c.WriteThrottleIntervalMs) * time.Millisecond
}

// ToolTimeout returns the wall-clock limit for the named tool
func (c *Config) ToolTimeout(name string) time.Duration {
	if secs, ok := c.ToolTimeoutsSeconds[name]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(c.DefaultToolTimeoutSeconds) * time.Second
}
