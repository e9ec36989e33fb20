package watcher

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"devwatch/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

type watchEntry struct {
	path       string
	recursive  bool
	handle     Handle
	generation uint64
}

// WatchPath registers a watch on path unless it is already covered by its
// own entry or by a recursive watch on an ancestor. A new recursive watch
// replaces any existing watches beneath it. Notifier errors are returned
// as-is and leave the registry unchanged.
func (w *Watcher) WatchPath(path string, recursive bool) error {
	path = filepath.Clean(path)

	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return ErrClosed
	}
	if w.isPathWatchedLocked(path) {
		w.mutex.Unlock()
		return nil
	}
	w.nextGeneration++
	generation := w.nextGeneration
	w.mutex.Unlock()

	handle, err := w.notifier.Start(path, recursive, func(op fsnotify.Op, name string) {
		w.handleNotification(path, generation, recursive, op, name)
	})
	if err != nil {
		w.logger.Warn("watch add failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return fmt.Errorf("watch %s: %w", path, err)
	}

	w.mutex.Lock()
	if closed := w.closed; closed || w.isPathWatchedLocked(path) {
		w.mutex.Unlock()
		_ = handle.Close()
		if closed {
			return ErrClosed
		}
		return nil
	}
	w.watches[path] = &watchEntry{
		path:       path,
		recursive:  recursive,
		handle:     handle,
		generation: generation,
	}
	var redundant []*watchEntry
	if recursive {
		for existing, entry := range w.watches {
			if isStrictlyWithin(path, existing) {
				delete(w.watches, existing)
				redundant = append(redundant, entry)
			}
		}
	}
	activeCount := len(w.watches)
	w.mutex.Unlock()

	_ = w.closeEntries(redundant)
	w.metrics.SetActiveWatches(activeCount)
	w.logger.Debug("watch added", map[string]string{
		"path":           path,
		"recursive":      strconv.FormatBool(recursive),
		"active_watches": strconv.Itoa(activeCount),
	})
	return nil
}

// IsPathWatched reports whether path has its own watch or lies under a
// recursive one.
func (w *Watcher) IsPathWatched(path string) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.isPathWatchedLocked(filepath.Clean(path))
}

// WatchedPaths returns the registered watch roots, sorted.
func (w *Watcher) WatchedPaths() []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	paths := make([]string, 0, len(w.watches))
	for path := range w.watches {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (w *Watcher) isPathWatchedLocked(path string) bool {
	if _, ok := w.watches[path]; ok {
		return true
	}
	for root, entry := range w.watches {
		if entry.recursive && isWithinPath(root, path) {
			return true
		}
	}
	return false
}

// handleNotification is the notifier callback for one registry entry.
// Callbacks from entries that were stopped or replaced are dropped.
func (w *Watcher) handleNotification(root string, generation uint64, recursive bool, op fsnotify.Op, name string) {
	w.metrics.IncNotification()

	trigger := root
	if recursive && name != "" {
		trigger = filepath.Join(root, name)
	}

	w.mutex.Lock()
	entry, ok := w.watches[root]
	if w.closed || !ok || entry.generation != generation {
		w.mutex.Unlock()
		w.metrics.IncDiscarded(metrics.ReasonStale)
		return
	}
	change, emit := w.onChangeLocked(trigger, op)
	var listeners []func(ChangeEvent)
	if emit {
		listeners = w.listenersLocked()
	}
	w.mutex.Unlock()

	if emit {
		w.emit(change, listeners)
	}
}

func (w *Watcher) takeWatchesLocked() []*watchEntry {
	entries := make([]*watchEntry, 0, len(w.watches))
	for _, entry := range w.watches {
		entries = append(entries, entry)
	}
	w.watches = make(map[string]*watchEntry)
	return entries
}

func (w *Watcher) closeEntries(entries []*watchEntry) error {
	var firstErr error
	for _, entry := range entries {
		if entry.handle == nil {
			continue
		}
		if err := entry.handle.Close(); err != nil {
			w.logger.Warn("watch remove failed", map[string]string{
				"path":  entry.path,
				"error": err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w.logger.Debug("watch removed", map[string]string{"path": entry.path})
	}
	return firstErr
}
