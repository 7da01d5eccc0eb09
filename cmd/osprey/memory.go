package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/docker/go-units"

	"github.com/ospreyhq/osprey/internal/logging"
	"github.com/ospreyhq/osprey/internal/memory"
)

func runMemory(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("memory", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default ~/.config/osprey/config.yaml)")
	path := fs.String("path", "", "memory file (default from config)")
	flush := fs.Bool("flush", false, "force a synchronous save before exiting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadRuntime(*configPath)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	p := *path
	if p == "" {
		p = cfg.Memory.Path
	}

	store, err := memory.NewStore(memory.Options{
		Path:        p,
		MaxMemories: cfg.Memory.MaxMemories,
		MaxTokens:   cfg.Memory.MaxTokens,
		Obfuscate:   cfg.Memory.Obfuscate,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	stats := store.Stats()
	fmt.Printf("memories: %d (~%d tokens estimated)\n", stats.Count, stats.EstimatedTokens)
	for _, cat := range []memory.Category{memory.CategoryUser, memory.CategoryProject, memory.CategoryCodebase} {
		if n := stats.ByCategory[cat]; n > 0 {
			fmt.Printf("  %-9s %d\n", cat, n)
		}
	}

	if *flush {
		if err := store.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		fmt.Println("flushed")
	}

	if info, err := os.Stat(p); err == nil {
		fmt.Printf("file: %s (%s)\n", p, units.HumanSize(float64(info.Size())))
	} else if os.IsNotExist(err) {
		fmt.Printf("file: %s (not written yet)\n", p)
	}
	return nil
}
