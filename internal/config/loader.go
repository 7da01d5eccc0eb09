package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "OSPREY_"

	maxConfigFileSize = 1 << 20 // 1MB
)

// DefaultPath returns the per-user config file location,
// ~/.config/osprey/config.yaml on Linux.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "osprey", "config.yaml"), nil
}

// Load reads configuration with the following precedence, highest first:
//
//  1. OSPREY_-prefixed environment variables
//  2. the YAML file at path (DefaultPath when path is empty)
//  3. built-in defaults
//
// A missing file is not an error; defaults and environment still apply.
//
// Environment keys map onto two-level config keys. The first underscore
// after the prefix separates section from field and field names keep their
// own underscores:
//
//	OSPREY_ENGINE_MAX_ITERATIONS -> engine.max_iterations
//	OSPREY_LOGGING_LEVEL         -> logging.level
//	OSPREY_RETRY_MAX_RETRIES     -> retry.max_retries
//
// List-valued sections (servers) cannot be expressed this way and are
// file-only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(content) > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s too large: %d bytes (max %d)", path, len(content), maxConfigFileSize)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	// The data files live under the osprey config dir unless placed
	// explicitly.
	if cfg.Memory.Path == "" || cfg.Conversation.Dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user config dir: %w", err)
		}
		dir := filepath.Join(base, "osprey")
		if cfg.Memory.Path == "" {
			cfg.Memory.Path = filepath.Join(dir, "memory.json")
		}
		if cfg.Conversation.Dir == "" {
			cfg.Conversation.Dir = filepath.Join(dir, "conversations")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKey maps OSPREY_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}
