package watcher

import "path/filepath"

// FilterFile marks file as tracked and, when owner is set, records that
// owner depends on it. The file's directory is watched recursively where
// the platform supports subtree watches; otherwise the file itself is
// watched. A watch error is returned and nothing is recorded.
func (w *Watcher) FilterFile(file, owner string) error {
	if file == "" {
		return nil
	}
	file = filepath.Clean(file)

	var err error
	if w.recursiveSupported {
		err = w.WatchPath(filepath.Dir(file), true)
	} else {
		err = w.WatchPath(file, false)
	}
	if err != nil {
		return err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.filtered[file] = struct{}{}
	if owner != "" {
		addEdge(w.fileOwners, file, owner)
		addEdge(w.ownerFiles, owner, file)
	}
	return nil
}

// UnfilterFilesOwnedBy drops every file the owners depend on from the
// tracked set, together with all of that file's owner associations, even
// when another owner still depends on it. The owner ids themselves are
// also untracked.
func (w *Watcher) UnfilterFilesOwnedBy(owners []string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	for _, owner := range owners {
		for file := range w.ownerFiles[owner] {
			w.forgetFileLocked(file)
		}
		w.forgetFileLocked(owner)
		delete(w.ownerFiles, owner)
	}
}

// ClearFileFilters empties the tracked set. Watches and the owner graph are
// kept.
func (w *Watcher) ClearFileFilters() {
	w.mutex.Lock()
	w.filtered = make(map[string]struct{})
	w.mutex.Unlock()
}

// Clear stops every watch and empties the dependency graph. Throttle
// windows already running expire on their own.
func (w *Watcher) Clear() {
	w.mutex.Lock()
	entries := w.takeWatchesLocked()
	w.resetGraphLocked()
	w.mutex.Unlock()

	_ = w.closeEntries(entries)
	w.metrics.SetActiveWatches(0)
}

// FilteredFiles returns the tracked files, sorted.
func (w *Watcher) FilteredFiles() []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return sortedKeys(w.filtered)
}

// OwnersOf returns the owners depending on file, sorted.
func (w *Watcher) OwnersOf(file string) []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return sortedKeys(w.fileOwners[filepath.Clean(file)])
}

// FilesOwnedBy returns the files owner depends on, sorted.
func (w *Watcher) FilesOwnedBy(owner string) []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return sortedKeys(w.ownerFiles[owner])
}

// forgetFileLocked untracks file and removes it from both sides of the
// graph so the two maps stay mirror images.
func (w *Watcher) forgetFileLocked(file string) {
	delete(w.filtered, file)
	for owner := range w.fileOwners[file] {
		removeEdge(w.ownerFiles, owner, file)
	}
	delete(w.fileOwners, file)
}

func (w *Watcher) resetGraphLocked() {
	w.filtered = make(map[string]struct{})
	w.ownerFiles = make(map[string]map[string]struct{})
	w.fileOwners = make(map[string]map[string]struct{})
}

func addEdge(edges map[string]map[string]struct{}, from, to string) {
	set := edges[from]
	if set == nil {
		set = make(map[string]struct{})
		edges[from] = set
	}
	set[to] = struct{}{}
}

func removeEdge(edges map[string]map[string]struct{}, from, to string) {
	set := edges[from]
	if set == nil {
		return
	}
	delete(set, to)
	if len(set) == 0 {
		delete(edges, from)
	}
}
