package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ospreyhq/osprey/internal/logging"
	"github.com/ospreyhq/osprey/internal/mcp"
	"github.com/ospreyhq/osprey/internal/tool"
)

func runMCP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default ~/.config/osprey/config.yaml)")
	timeout := fs.Duration("timeout", 30*time.Second, "connection budget across all servers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadRuntime(*configPath)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	if len(cfg.Servers) == 0 {
		return fmt.Errorf("no servers configured: add a servers section to the config")
	}

	registry := tool.NewRegistry(logger, nil)
	manager := mcp.NewManager(registry, logger)
	defer manager.Close()

	cctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	for _, srv := range cfg.Servers {
		if err := manager.AddServer(cctx, srv); err != nil {
			logger.Warn("server registration failed",
				zap.String("server", srv.Name), zap.Error(err))
		}
	}

	for _, st := range manager.Servers() {
		if st.Connected {
			fmt.Printf("%-20s connected    %d tools\n", st.Name, st.ToolCount)
		} else {
			fmt.Printf("%-20s disconnected\n", st.Name)
		}
	}

	if names := registry.Names(); len(names) > 0 {
		fmt.Println("\nbridged tools:")
		for _, n := range names {
			fmt.Printf("  %s\n", n)
		}
	}
	return nil
}
