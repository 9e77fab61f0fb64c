// Package watcher turns file activity in the media and database directories
// into debounced bursts that the watch daemon answers with a sync.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a set of directories for file changes
type Watcher struct {
	roots          []string
	watcher        *fsnotify.Watcher
	debouncer      *Debouncer
	ignorePatterns []string
	stopCh         chan struct{}
}

// NewWatcher creates a watcher over roots. Only the roots themselves are
// watched; the media and database directories are flat.
func NewWatcher(roots []string, debounce time.Duration, ignorePatterns []string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	cleaned := make([]string, 0, len(roots))
	seen := make(map[string]bool)
	for _, r := range roots {
		r = filepath.Clean(r)
		if !seen[r] {
			seen[r] = true
			cleaned = append(cleaned, r)
		}
	}

	return &Watcher{
		roots:          cleaned,
		watcher:        fsWatcher,
		debouncer:      NewDebouncer(debounce),
		ignorePatterns: ignorePatterns,
		stopCh:         make(chan struct{}),
	}, nil
}

// Start creates any missing root and begins watching
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.roots {
		if err := os.MkdirAll(root, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", root, err)
		}
		if err := w.watcher.Add(root); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	go w.processEvents(ctx)

	slog.Info("watcher started",
		"roots", w.roots,
		"ignore_patterns", len(w.ignorePatterns))
	return nil
}

// Bursts returns the channel of debounced change bursts
func (w *Watcher) Bursts() <-chan Burst {
	return w.debouncer.Bursts()
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.debouncer.Stop()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			root, rel, ok := w.locate(event.Name)
			if !ok || w.shouldIgnore(rel) {
				continue
			}
			w.handleEvent(event, root, rel)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, root, rel string) {
	info, statErr := os.Stat(event.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case event.Has(fsnotify.Create):
		if isDir {
			return
		}
		w.debouncer.Add(root, rel, EventCreate)
	case event.Has(fsnotify.Write):
		if isDir {
			return
		}
		w.debouncer.Add(root, rel, EventModify)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// the new name of a rename arrives as its own create
		w.debouncer.Add(root, rel, EventDelete)
	}
}

// locate finds the watched root containing path
func (w *Watcher) locate(path string) (root, rel string, ok bool) {
	for _, r := range w.roots {
		rel, err := filepath.Rel(r, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return r, filepath.ToSlash(rel), true
	}
	return "", "", false
}

// shouldIgnore checks if a root-relative path matches any ignore pattern
func (w *Watcher) shouldIgnore(relPath string) bool {
	for _, pattern := range w.ignorePatterns {
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}
	}
	return false
}

// Flush emits pending changes without waiting for the quiet period
func (w *Watcher) Flush() {
	w.debouncer.Flush()
}
