// Package config loads codechat configuration from .codechat/config.yaml in
// the workspace, with environment overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codechat/internal/action"

	"gopkg.in/yaml.v3"
)

// Config holds all codechat configuration.
type Config struct {
	// HTTP server settings
	Server ServerConfig `yaml:"server"`

	// Upstream LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Retrieval configuration
	RAG RAGConfig `yaml:"rag"`

	// User-facing settings (auto-apply, mode); hot-reloadable
	Settings action.Settings `yaml:"settings"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the SSE chat server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LLMConfig configures the upstream model provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai-compatible endpoints
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// ParseTimeout returns the request timeout, defaulting to 10 minutes.
func (c LLMConfig) ParseTimeout() time.Duration {
	if c.Timeout == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// RAGConfig configures the retrieval collaborator.
type RAGConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	TopK    int    `yaml:"top_k"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig mirrors the block the logging package reads directly.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns the baseline configuration for a workspace.
func Default(workspace string) *Config {
	return &Config{
		Server: ServerConfig{Addr: "127.0.0.1:8400"},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "10m",
		},
		RAG: RAGConfig{
			Model: "gemini-embedding-001",
			TopK:  3,
		},
		Settings: action.Settings{
			AutoApplyChanges: false,
			Mode:             action.ModeBasic,
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(workspace, ".codechat", "chat.db"),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".codechat", "config.yaml")
}

// Load reads the workspace config, applies defaults for anything unset, and
// then environment overrides. A missing file is not an error: defaults apply.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Settings.Mode == "" {
		cfg.Settings.Mode = action.ModeBasic
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(workspace, ".codechat", "chat.db")
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config back to the workspace.
func (c *Config) Save(workspace string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(Path(workspace))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(Path(workspace), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides layers environment variables over the file values.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.RAG.APIKey = key
	}
	if url := os.Getenv("CODECHAT_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("CODECHAT_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if addr := os.Getenv("CODECHAT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}
