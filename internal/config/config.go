// Package config loads osprey's runtime configuration from a YAML file
// with OSPREY_-prefixed environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/ospreyhq/osprey/internal/logging"
	"github.com/ospreyhq/osprey/internal/mcp"
)

// Config is the full runtime configuration tree. Consumers receive the
// sections they need as plain values; nothing here is global.
type Config struct {
	Logging      logging.Config     `koanf:"logging"`
	Provider     ProviderConfig     `koanf:"provider"`
	Engine       EngineConfig       `koanf:"engine"`
	Retry        RetryConfig        `koanf:"retry"`
	Memory       MemoryConfig       `koanf:"memory"`
	Conversation ConversationConfig `koanf:"conversation"`
	State        StateConfig        `koanf:"state"`
	Servers      []mcp.ServerConfig `koanf:"servers"`
}

// ProviderConfig names the model provider and its credentials. The adapter
// itself is constructed by the embedding application; osprey only carries
// these values and masks the key whenever it echoes them.
type ProviderConfig struct {
	Name    string `koanf:"name"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// EngineConfig tunes the conversation loop.
type EngineConfig struct {
	Model           string  `koanf:"model"`
	SystemPrompt    string  `koanf:"system_prompt"`
	MaxIterations   int     `koanf:"max_iterations"`
	MaxTokens       int     `koanf:"max_tokens"`
	Temperature     float32 `koanf:"temperature"`
	MaxMemoryTokens int     `koanf:"max_memory_tokens"`
	MemoryPercent   float64 `koanf:"memory_percent"`
	MaxMemories     int     `koanf:"max_memories"`
}

// RetryConfig tunes provider-call retries. Leaving the whole section unset
// selects the built-in policy; setting any field means the section is taken
// as written, including Jitter.
type RetryConfig struct {
	MaxRetries   int           `koanf:"max_retries"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	Multiplier   float64       `koanf:"multiplier"`
	Jitter       bool          `koanf:"jitter"`
}

// MemoryConfig locates and bounds the persistent memory store.
type MemoryConfig struct {
	Path        string `koanf:"path"`
	MaxMemories int    `koanf:"max_memories"`
	MaxTokens   int    `koanf:"max_tokens"`
	Obfuscate   bool   `koanf:"obfuscate"`
}

// ConversationConfig locates saved conversation sessions.
type ConversationConfig struct {
	Dir string `koanf:"dir"`
}

// StateConfig locates the phase-state file. Empty is allowed; state files
// are per-workflow artifacts normally named by the caller.
type StateConfig struct {
	Path string `koanf:"path"`
}

// applyDefaults fills zero values with the built-in defaults.
func applyDefaults(cfg *Config) {
	logDefaults := logging.DefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = logDefaults.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = logDefaults.Format
	}

	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 25
	}
	if cfg.Engine.MaxMemories == 0 {
		cfg.Engine.MaxMemories = 10
	}
	if cfg.Engine.MemoryPercent == 0 {
		cfg.Engine.MemoryPercent = 0.2
	}

	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = RetryConfig{
			MaxRetries:   3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}
	}

	if cfg.Memory.MaxMemories == 0 {
		cfg.Memory.MaxMemories = 100
	}
}

// Validate rejects values no component will accept. Field-level checks the
// components repeat themselves (log levels, server duplicates) are still
// done here so a bad file fails at load time, not first use.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging format %q (want json or console)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}

	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be positive, got %d", c.Engine.MaxIterations)
	}
	if c.Engine.MaxTokens < 0 {
		return fmt.Errorf("engine.max_tokens must not be negative, got %d", c.Engine.MaxTokens)
	}
	if c.Engine.MaxMemoryTokens < 0 {
		return fmt.Errorf("engine.max_memory_tokens must not be negative, got %d", c.Engine.MaxMemoryTokens)
	}
	if c.Engine.MemoryPercent < 0 || c.Engine.MemoryPercent > 1 {
		return fmt.Errorf("engine.memory_percent must be between 0 and 1, got %g", c.Engine.MemoryPercent)
	}
	if c.Engine.Temperature < 0 || c.Engine.Temperature > 2 {
		return fmt.Errorf("engine.temperature must be between 0 and 2, got %g", c.Engine.Temperature)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %g", c.Retry.Multiplier)
	}

	if c.Memory.MaxMemories < 1 {
		return fmt.Errorf("memory.max_memories must be positive, got %d", c.Memory.MaxMemories)
	}
	if c.Memory.MaxTokens < 0 {
		return fmt.Errorf("memory.max_tokens must not be negative, got %d", c.Memory.MaxTokens)
	}

	seen := make(map[string]bool, len(c.Servers))
	for _, srv := range c.Servers {
		if srv.Name == "" {
			return fmt.Errorf("server entries require a name")
		}
		if srv.Command == "" {
			return fmt.Errorf("server %q has no launch command", srv.Name)
		}
		if seen[srv.Name] {
			return fmt.Errorf("duplicate server name %q", srv.Name)
		}
		seen[srv.Name] = true
	}

	return nil
}
