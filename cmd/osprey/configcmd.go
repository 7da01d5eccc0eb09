package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/ospreyhq/osprey/internal/config"
	"github.com/ospreyhq/osprey/internal/logging"
	"github.com/ospreyhq/osprey/internal/provider"
)

// runConfig echoes the effective configuration. Credentials are always
// masked on the way out.
func runConfig(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default ~/.config/osprey/config.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := *configPath
	if p == "" {
		var err error
		p, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(p)
	if err != nil {
		return err
	}

	fmt.Printf("config file:  %s\n", p)
	fmt.Printf("logging:      level=%s format=%s\n", cfg.Logging.Level, cfg.Logging.Format)
	fmt.Printf("provider:     name=%s key=%s base_url=%s\n",
		orUnset(cfg.Provider.Name), logging.RedactSecret(cfg.Provider.APIKey), orUnset(cfg.Provider.BaseURL))
	fmt.Printf("engine:       model=%s max_iterations=%d max_tokens=%d temperature=%g\n",
		orUnset(cfg.Engine.Model), cfg.Engine.MaxIterations, cfg.Engine.MaxTokens, cfg.Engine.Temperature)
	fmt.Printf("              memory_percent=%g max_memory_tokens=%d max_memories=%d\n",
		cfg.Engine.MemoryPercent, cfg.Engine.MaxMemoryTokens, cfg.Engine.MaxMemories)
	limits := provider.LimitsFor(cfg.Engine.Model)
	fmt.Printf("              context_window=%d max_output_tokens=%d\n",
		limits.ContextWindow, limits.MaxOutputTokens)
	fmt.Printf("retry:        max_retries=%d initial=%s cap=%s multiplier=%g jitter=%v\n",
		cfg.Retry.MaxRetries, cfg.Retry.InitialDelay, cfg.Retry.MaxDelay, cfg.Retry.Multiplier, cfg.Retry.Jitter)
	fmt.Printf("memory:       path=%s max_memories=%d max_tokens=%d obfuscate=%v\n",
		cfg.Memory.Path, cfg.Memory.MaxMemories, cfg.Memory.MaxTokens, cfg.Memory.Obfuscate)
	fmt.Printf("conversation: dir=%s\n", cfg.Conversation.Dir)
	fmt.Printf("state:        path=%s\n", orUnset(cfg.State.Path))

	fmt.Printf("servers (%d):\n", len(cfg.Servers))
	for _, srv := range cfg.Servers {
		line := fmt.Sprintf("  %s: %s", srv.Name, srv.Command)
		if len(srv.Args) > 0 {
			line += " " + strings.Join(srv.Args, " ")
		}
		if len(srv.DisabledTools) > 0 {
			line += fmt.Sprintf(" (disabled: %s)", strings.Join(srv.DisabledTools, ", "))
		}
		fmt.Println(line)
	}
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
