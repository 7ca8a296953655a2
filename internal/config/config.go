// Package config loads the CLI host configuration from YAML with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/convo/pkg/models"
)

// Config is the root configuration for the convo CLI host.
type Config struct {
	Logging  LoggingConfig `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Engine   EngineConfig   `yaml:"engine"`

	// Rules are context rules installed into new conversations.
	Rules []models.ContextRule `yaml:"rules"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig configures event persistence.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	// Provider is "openai" or "anthropic".
	Provider string `yaml:"provider"`

	Model           string   `yaml:"model"`
	APIKey          string   `yaml:"api_key"`
	MaxOutputTokens *int     `yaml:"max_output_tokens"`
	Temperature     *float64 `yaml:"temperature"`
}

// EngineConfig configures engine behavior.
type EngineConfig struct {
	// UserFacingToolName is the tool counted by the infinite-loop
	// failsafe.
	UserFacingToolName string `yaml:"user_facing_tool_name"`

	// SystemPrompt seeds new conversations.
	SystemPrompt string `yaml:"system_prompt"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Path: "convo.db"},
		LLM:      LLMConfig{Provider: "openai", Model: "gpt-4o"},
	}
}

// Load reads a YAML config file on top of the defaults and applies
// environment overrides. An empty path returns defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CONVO_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CONVO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "anthropic":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	return nil
}
