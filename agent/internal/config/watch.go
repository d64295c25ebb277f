package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/casewatch/casewatch/pkg/coalesce"
)

// reloadDelay is how long filesystem events on the config file are
// accumulated before one reload.
const reloadDelay = 200 * time.Millisecond

// Watch monitors path and calls onChange with the newly loaded Config once
// per burst of changes. It runs until ctx is cancelled. A reload that fails
// to parse or validate is logged and the previous config stays active.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// The directory, so a rename over the file is seen too.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	reload := coalesce.Funcs[string]{OnBatch: func([]string) {
		cfg, err := Load(abs)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", abs, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", abs)
		onChange(cfg)
	}}
	burst, err := coalesce.NewBatchCoordinator[string](coalesce.Config{
		Name:       "agent-config",
		BatchDelay: reloadDelay,
	}, reload)
	if err != nil {
		return err
	}
	defer burst.Stop()

	slog.Info("config: watching for changes", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				burst.Enqueue(abs)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
