package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/clock"

	"github.com/casewatch/casewatch/agent/internal/config"
	"github.com/casewatch/casewatch/pkg/coalesce"
	"github.com/casewatch/casewatch/pkg/types"
)

// Emit receives one coalesced batch of change events.
type Emit func(events []types.ChangeEvent)

// Options tune a Watcher. The zero value uses the wall clock and the
// default logger.
type Options struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *coalesce.Metrics
}

// fileKey is the coalescing key: one changed file under one watch.
type fileKey struct {
	watch string
	path  string
}

type watch struct {
	config.Watch
	kind types.Kind
}

// Watcher reports changes under a fixed set of watched directories.
type Watcher struct {
	watches []watch // longest path first
	fs      *fsnotify.Watcher
	batch   *coalesce.BatchCoordinator[fileKey]
	emit    Emit
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates a Watcher for watches. Changes are accumulated for delay
// before being passed to emit. Watched paths must exist.
func New(watches []config.Watch, delay time.Duration, emit Emit, opts Options) (*Watcher, error) {
	if emit == nil {
		return nil, fmt.Errorf("watcher: emit is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	w := &Watcher{
		emit:   emit,
		clock:  opts.Clock,
		logger: opts.Logger,
	}
	for _, cw := range watches {
		abs, err := filepath.Abs(cw.Path)
		if err != nil {
			return nil, fmt.Errorf("watcher: %s: %w", cw.ID, err)
		}
		kind, err := types.ParseKind(cw.Kind)
		if err != nil {
			return nil, fmt.Errorf("watcher: %s: %w", cw.ID, err)
		}
		cw.Path = abs
		w.watches = append(w.watches, watch{Watch: cw, kind: kind})
	}
	sort.SliceStable(w.watches, func(i, j int) bool {
		return len(w.watches[i].Path) > len(w.watches[j].Path)
	})

	batch, err := coalesce.NewBatchCoordinator[fileKey](coalesce.Config{
		Name:       "agent-watch",
		BatchDelay: delay,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
	}, coalesce.Funcs[fileKey]{OnBatch: w.handle})
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	w.batch = batch

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	w.fs = fsw

	for _, cw := range w.watches {
		if err := w.add(cw); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// add registers cw.Path, and every subdirectory when cw is recursive.
func (w *Watcher) add(cw watch) error {
	info, err := os.Stat(cw.Path)
	if err != nil {
		return fmt.Errorf("watcher: %s: %w", cw.ID, err)
	}
	if !info.IsDir() || !cw.Recursive {
		if err := w.fs.Add(cw.Path); err != nil {
			return fmt.Errorf("watcher: %s: %w", cw.ID, err)
		}
		return nil
	}
	return w.addTree(cw.Path)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished or unreadable subtrees are skipped, not fatal.
			w.logger.Warn("watcher: walk failed", "path", p, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fs.Add(p); err != nil {
			return fmt.Errorf("watcher: add %s: %w", p, err)
		}
		return nil
	})
}

// Scan enqueues every file already present under the watched paths, so the
// first batch after start-up refreshes all watched nodes. It returns the
// number of files enqueued.
func (w *Watcher) Scan() int {
	var keys []fileKey
	for _, cw := range w.watches {
		_ = filepath.WalkDir(cw.Path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if p != cw.Path && !cw.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			// A nested watch owns its own subtree.
			if owner, ok := w.match(p); ok && owner.ID == cw.ID && !cw.Ignored(p) {
				keys = append(keys, fileKey{watch: cw.ID, path: p})
			}
			return nil
		})
	}
	w.batch.EnqueueAll(keys)
	return len(keys)
}

// Run processes filesystem events until ctx is cancelled, then flushes the
// pending window so no change is lost on shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.batch.Flush()
		w.batch.Stop()
		w.fs.Close()
	}()

	w.logger.Info("watcher: started", "watches", len(w.watches))
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.observe(ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: fsnotify error", "err", err)
		}
	}
}

// Flush delivers the pending window now and returns the number of files in it.
func (w *Watcher) Flush() int {
	return len(w.batch.Flush())
}

// Pending reports how many changed files wait in the current window.
func (w *Watcher) Pending() int {
	return len(w.batch.Pending())
}

func (w *Watcher) observe(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	path := filepath.Clean(ev.Name)
	cw, ok := w.match(path)
	if !ok || cw.Ignored(path) {
		return
	}

	if ev.Has(fsnotify.Create) && cw.Recursive {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addTree(path); err != nil {
				w.logger.Warn("watcher: could not watch new directory", "path", path, "err", err)
			}
			// Files written before the directory was registered.
			w.enqueueTree(cw, path)
			return
		}
	}
	w.batch.Enqueue(fileKey{watch: cw.ID, path: path})
}

func (w *Watcher) enqueueTree(cw watch, root string) {
	var keys []fileKey
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && !cw.Ignored(p) {
			keys = append(keys, fileKey{watch: cw.ID, path: p})
		}
		return nil
	})
	w.batch.EnqueueAll(keys)
}

// match returns the watch with the longest path containing path.
func (w *Watcher) match(path string) (watch, bool) {
	for _, cw := range w.watches {
		if path == cw.Path || strings.HasPrefix(path, cw.Path+string(filepath.Separator)) {
			return cw, true
		}
	}
	return watch{}, false
}

// handle converts one window into change events, ordered by watch then path.
func (w *Watcher) handle(batch []fileKey) {
	byID := make(map[string]watch, len(w.watches))
	for _, cw := range w.watches {
		byID[cw.ID] = cw
	}
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].watch != batch[j].watch {
			return batch[i].watch < batch[j].watch
		}
		return batch[i].path < batch[j].path
	})

	now := w.clock.Now().UTC()
	events := make([]types.ChangeEvent, 0, len(batch))
	for _, k := range batch {
		cw := byID[k.watch]
		events = append(events, types.ChangeEvent{
			Kind:         cw.kind,
			TypeID:       cw.TypeID,
			DataSourceID: cw.DataSourceID,
			Path:         k.path,
			Source:       cw.ID,
			Time:         now,
		})
	}
	w.logger.Debug("watcher: batch ready", "files", len(events))
	w.emit(events)
}
