// Package watch re-runs audits when files in the theme layers change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the layer roots recursively and calls back after
// changes settle.
type Watcher struct {
	roots      []string
	ignoreDirs []string
	delay      time.Duration
	logger     *slog.Logger
	ready      chan struct{}
}

// New creates a watcher over roots. Directories named in ignoreDirs are
// not watched.
func New(roots, ignoreDirs []string, delay time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		roots:      roots,
		ignoreDirs: ignoreDirs,
		delay:      delay,
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the initial directory tree is being watched
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run blocks until ctx is cancelled. onChange runs on the calling
// goroutine, so a change arriving mid-run schedules exactly one more call.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()

	for _, root := range w.roots {
		if err := w.addTree(fw, root); err != nil {
			return err
		}
	}
	close(w.ready)

	fire := make(chan struct{}, 1)
	d := &debouncer{delay: w.delay, fire: fire}
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping watcher")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(fw, event) {
				continue
			}
			w.logger.Debug("layer changed", "path", event.Name, "op", event.Op.String())
			d.trigger()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-fire:
			onChange(ctx)
		}
	}
}

// relevant filters chmod noise and starts watching new directories
func (w *Watcher) relevant(fw *fsnotify.Watcher, event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if w.ignored(filepath.Base(event.Name)) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(fw, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}
	return true
}

// addTree watches root and every directory below it. A missing root is
// not an error; the audit treats it as an empty layer.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("layer root does not exist, not watching", "path", root)
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(name string) bool {
	return slices.Contains(w.ignoreDirs, name)
}

// debouncer coalesces triggers that arrive within delay of each other
type debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
	fire  chan<- struct{}
}

// trigger restarts the quiet period
func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		select {
		case d.fire <- struct{}{}:
		default:
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
