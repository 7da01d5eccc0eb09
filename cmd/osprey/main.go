package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ospreyhq/osprey/internal/config"
	"github.com/ospreyhq/osprey/internal/logging"
)

func main() {
	// Load .env if present so OSPREY_ overrides work from a project dir.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "state":
		err = runState(ctx, os.Args[2:])
	case "mcp":
		err = runMCP(ctx, os.Args[2:])
	case "memory":
		err = runMemory(ctx, os.Args[2:])
	case "config":
		err = runConfig(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "osprey: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "osprey: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: osprey <command> [flags]

commands:
  state    print a phase-state file; -watch re-prints on change
  mcp      connect configured MCP servers and list bridged tools
  memory   report memory store statistics; -flush forces a save
  config   print the effective configuration with credentials masked

Every command accepts -config to point at an alternative YAML file
(default ~/.config/osprey/config.yaml). OSPREY_-prefixed environment
variables override file values.
`)
}

// loadRuntime is the shared bootstrap: configuration first, then a logger
// built from it.
func loadRuntime(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("runtime configured",
		zap.String("provider", cfg.Provider.Name),
		logging.Secret("api_key", cfg.Provider.APIKey),
		zap.Int("servers", len(cfg.Servers)))
	return cfg, logger, nil
}
