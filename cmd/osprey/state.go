package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ospreyhq/osprey/internal/logging"
	"github.com/ospreyhq/osprey/internal/state"
)

const watchDebounce = 200 * time.Millisecond

func runState(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default ~/.config/osprey/config.yaml)")
	path := fs.String("path", "", "phase-state file (default from config)")
	watch := fs.Bool("watch", false, "keep running and re-print on change")
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
		p = cfg.State.Path
	}
	if p == "" {
		return fmt.Errorf("no state file: pass -path or set state.path in the config")
	}

	store := state.NewStore(logger)
	if err := printState(store, p); err != nil {
		return err
	}
	if !*watch {
		return nil
	}
	return watchState(ctx, logger, store, p)
}

func printState(store *state.Store, path string) error {
	st, err := store.Read(path)
	if err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil {
		fmt.Printf("%s (%s, modified %s)\n", path,
			units.HumanSize(float64(info.Size())), info.ModTime().Format(time.RFC3339))
	}
	fmt.Printf("phase=%s status=%s errors=%d artifacts=%d\n",
		st.Phase, st.Status, len(st.Errors), len(st.Artifacts))

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("render state: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// watchState re-prints the file after changes settle. The watch sits on the
// parent directory because the store replaces the file by rename, which
// would drop a watch placed on the file itself.
func watchState(ctx context.Context, logger *zap.Logger, store *state.Store, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("watching state file", zap.String("path", abs))

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			if err := printState(store, path); err != nil {
				logger.Warn("state re-read failed", zap.Error(err))
			}
		}
	}
}
