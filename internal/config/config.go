// Package config loads reagent configuration from .reagent/config.yaml,
// with environment variable overrides for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	actx "reagent/internal/context"
	"reagent/internal/logging"
)

// DefaultPath is the config file location relative to the workspace.
const DefaultPath = ".reagent/config.yaml"

// Config holds all reagent configuration.
type Config struct {
	Name string `yaml:"name"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Context window and compaction
	Context actx.Config `yaml:"context"`

	// Usage ledger persistence
	Usage UsageConfig `yaml:"usage"`

	// Subagent defaults
	Agents AgentsConfig `yaml:"agents"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the reasoning engine provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// UsageConfig configures durable usage history.
type UsageConfig struct {
	// DatabasePath is the SQLite file for usage events, relative to the
	// workspace. Empty disables durable history.
	DatabasePath string `yaml:"database_path"`
}

// AgentsConfig configures subagent defaults.
type AgentsConfig struct {
	// PresetDir holds YAML subagent definitions, one per file.
	PresetDir string `yaml:"preset_dir"`

	// MaxActive caps concurrent subagents. Zero means no cap.
	MaxActive int `yaml:"max_active"`

	// MaxTurns bounds each reasoning loop.
	MaxTurns int `yaml:"max_turns"`
}

// LoggingConfig configures category file logging.
type LoggingConfig struct {
	Debug      bool     `yaml:"debug"`
	Level      string   `yaml:"level"` // debug, info, warn, error
	Categories []string `yaml:"categories"`
}

// Options converts the logging section into logger options.
func (c LoggingConfig) Options() logging.Options {
	var cats map[string]bool
	if len(c.Categories) > 0 {
		cats = make(map[string]bool, len(c.Categories))
		for _, name := range c.Categories {
			cats[name] = true
		}
	}
	return logging.Options{
		DebugMode:  c.Debug,
		Level:      c.Level,
		Categories: cats,
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "reagent",
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
		},
		Context: actx.DefaultConfig(),
		Usage: UsageConfig{
			DatabasePath: ".reagent/usage.db",
		},
		Agents: AgentsConfig{
			PresetDir: ".reagent/agents",
			MaxTurns:  25,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
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

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets environment variables win over file values for
// credentials and debug toggles.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("REAGENT_API_KEY"); key != "" {
		c.LLM.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("REAGENT_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if os.Getenv("REAGENT_DEBUG") == "1" {
		c.Logging.Debug = true
		if c.Logging.Level == "" {
			c.Logging.Level = "debug"
		}
	}
}

// Validate checks the configuration for values the core would reject.
func (c *Config) Validate() error {
	if c.Context.MaxTokens <= 0 {
		return fmt.Errorf("context.max_tokens must be positive, got %d", c.Context.MaxTokens)
	}
	if c.Context.NearLimitThreshold <= 0 || c.Context.NearLimitThreshold > 1 {
		return fmt.Errorf("context.near_limit_threshold must be in (0, 1], got %v", c.Context.NearLimitThreshold)
	}
	if c.Context.Compaction.KeepFirstN < 0 || c.Context.Compaction.KeepLastN < 0 {
		return fmt.Errorf("compaction keep windows must be non-negative")
	}
	if c.Agents.MaxActive < 0 {
		return fmt.Errorf("agents.max_active must be non-negative, got %d", c.Agents.MaxActive)
	}
	return nil
}
