// Package config loads and validates the operator's YAML configuration.
// Environment variables referenced as ${VAR} in the file are expanded
// before parsing, so secrets stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/operator/internal/tokens"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Provider      ProviderConfig      `yaml:"provider"`
	Prompt        PromptConfig        `yaml:"prompt"`
	Tools         ToolsConfig         `yaml:"tools"`
	Tokens        TokensConfig        `yaml:"tokens"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// HeartbeatInterval paces SSE heartbeats on open streams.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ProviderConfig struct {
	// Name selects the completion provider: "openai" or "anthropic".
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type PromptConfig struct {
	Budget          int `yaml:"budget"`
	MaxHistoryTurns int `yaml:"max_history_turns"`
}

type ToolsConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

type TokensConfig struct {
	InputPricePer1K  float64 `yaml:"input_price_per_1k"`
	OutputPricePer1K float64 `yaml:"output_price_per_1k"`
}

// Pricing converts the config values into the token monitor's pricing type.
func (t TokensConfig) Pricing() tokens.Pricing {
	return tokens.Pricing{
		InputPer1K:  t.InputPricePer1K,
		OutputPer1K: t.OutputPricePer1K,
	}
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	// OTLPEndpoint enables trace export when set; empty keeps the no-op
	// tracer.
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			HeartbeatInterval: 15 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      5 * time.Minute,
		},
		Provider: ProviderConfig{
			Name:  "openai",
			Model: "gpt-4o",
		},
		Prompt: PromptConfig{
			Budget:          4000,
			MaxHistoryTurns: 10,
		},
		Tools: ToolsConfig{
			Concurrency:    8,
			DefaultTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			ServiceName: "operator",
			SampleRate:  1.0,
		},
	}
}

// Load reads, expands, parses, and validates a configuration file. Values
// absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Provider.Name {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("provider.name %q not supported (openai, anthropic)", c.Provider.Name)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.Prompt.Budget <= 0 {
		return fmt.Errorf("prompt.budget must be positive")
	}
	if c.Tools.Concurrency <= 0 {
		return fmt.Errorf("tools.concurrency must be positive")
	}
	if c.Tokens.InputPricePer1K < 0 || c.Tokens.OutputPricePer1K < 0 {
		return fmt.Errorf("token prices must not be negative")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be within [0, 1]")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q not supported", c.Logging.Level)
	}
	return nil
}

// Addr returns the server's listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
