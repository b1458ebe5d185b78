// Package watch reports files that change under the served directory, so a
// tester knows a reload will pick up new content.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"
)

// Event describes one changed path, relative to the watched root.
type Event struct {
	Name string
	Op   fsnotify.Op
}

// Watcher handles filesystem events under Root
type Watcher struct {
	watcher  *fsnotify.Watcher
	Root     string
	Debounce time.Duration
	OnEvent  func(Event)

	logger *slog.Logger
	hashes map[string][32]byte
}

// New creates a watcher for root. Nothing is watched until Run is called.
func New(root string, debounce time.Duration, logger *slog.Logger, onEvent func(Event)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		watcher:  w,
		Root:     root,
		Debounce: debounce,
		OnEvent:  onEvent,
		logger:   logger,
		hashes:   make(map[string][32]byte),
	}, nil
}

// Run watches Root recursively until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn("Failed to close file watcher", "error", err)
		}
	}()

	if err := w.addTree(w.Root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.Root, err)
	}

	pending := make(map[string]fsnotify.Op)
	timer := time.NewTimer(w.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			// Ignore chmod and other meta events
			if event.Op == fsnotify.Chmod || isHidden(filepath.Base(event.Name)) {
				continue
			}
			pending[event.Name] |= event.Op
			timer.Reset(w.Debounce)

		case <-timer.C:
			w.flush(pending)
			pending = make(map[string]fsnotify.Op)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

// flush reports every pending path whose content actually changed.
func (w *Watcher) flush(pending map[string]fsnotify.Op) {
	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		op := pending[name]
		if !w.changed(name, op) {
			continue
		}
		rel, err := filepath.Rel(w.Root, name)
		if err != nil {
			rel = name
		}
		if w.OnEvent != nil {
			w.OnEvent(Event{Name: filepath.ToSlash(rel), Op: op})
		}
	}
}

// changed updates the content hash for path and reports whether the path is
// new, removed, or has different bytes than last seen.
func (w *Watcher) changed(path string, op fsnotify.Op) bool {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			_, known := w.hashes[path]
			delete(w.hashes, path)
			return known || op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)
		}
		w.logger.Warn("Failed to stat changed path", "path", path, "error", err)
		return false
	}

	if info.IsDir() {
		// Handle new directories
		if op.Has(fsnotify.Create) {
			if err := w.addTree(path); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
			}
		}
		return false
	}

	sum, err := hashFile(path)
	if err != nil {
		w.logger.Warn("Failed to hash changed file", "path", path, "error", err)
		return true
	}
	prev, known := w.hashes[path]
	w.hashes[path] = sum
	return !known || prev != sum
}

// addTree watches dir and its subdirectories, recording file hashes so that
// later no-op writes are not reported. Only a failure on dir itself is
// returned; unreadable or unwatchable entries below it are logged and skipped.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn("Skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			// Skip hidden directories like .git
			if path != dir && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				if path == dir {
					return err
				}
				w.logger.Warn("Failed to watch directory", "path", path, "error", err)
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || isHidden(d.Name()) {
			return nil
		}
		if sum, err := hashFile(path); err == nil {
			w.hashes[path] = sum
		}
		return nil
	})
}

func hashFile(path string) ([32]byte, error) {
	var sum [32]byte

	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// isHidden matches dotfiles and editor backup files.
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}
