package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"devwatch/internal/logging"
	"devwatch/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

// FSNotifier implements Notifier on top of a single fsnotify watcher.
// fsnotify watches one directory level at a time, so recursive starts add
// every directory below the root, and directories created later are added
// as their Create events arrive.
type FSNotifier struct {
	watcher       *fsnotify.Watcher
	logger        *logging.Logger
	metrics       *metrics.Registry
	mutex         sync.Mutex
	registrations map[uint64]*registration
	refs          map[string]int
	nextID        uint64
	done          chan struct{}
	closeOnce     sync.Once
}

type registration struct {
	id        uint64
	root      string
	recursive bool
	callback  NotifyFunc
	dirs      []string
}

type notifyHandle struct {
	notifier *FSNotifier
	id       uint64
	once     sync.Once
}

func (handle *notifyHandle) Close() error {
	var err error
	handle.once.Do(func() {
		err = handle.notifier.stop(handle.id)
	})
	return err
}

func NewFSNotifier(logger *logging.Logger, registry *metrics.Registry) (*FSNotifier, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	notifier := &FSNotifier{
		watcher:       watcher,
		logger:        logger,
		metrics:       registry,
		registrations: make(map[uint64]*registration),
		refs:          make(map[string]int),
		done:          make(chan struct{}),
	}
	go notifier.run()
	return notifier, nil
}

// Start watches path. Missing paths fail with the os.Stat error.
func (notifier *FSNotifier) Start(path string, recursive bool, callback NotifyFunc) (Handle, error) {
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	select {
	case <-notifier.done:
		return nil, ErrClosed
	default:
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	recursive = recursive && info.IsDir()

	dirs := []string{path}
	if recursive {
		nested, err := collectRecursiveDirs(path)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, nested...)
	}

	added := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if err := notifier.acquire(dir); err != nil {
			if dir == path {
				notifier.releaseAll(added)
				return nil, err
			}
			notifier.logger.Warn("nested watch add failed", map[string]string{
				"path":  dir,
				"error": err.Error(),
			})
			continue
		}
		added = append(added, dir)
	}

	notifier.mutex.Lock()
	notifier.nextID++
	entry := &registration{
		id:        notifier.nextID,
		root:      path,
		recursive: recursive,
		callback:  callback,
		dirs:      added,
	}
	notifier.registrations[entry.id] = entry
	notifier.mutex.Unlock()

	return &notifyHandle{notifier: notifier, id: entry.id}, nil
}

func (notifier *FSNotifier) Close() error {
	var err error
	notifier.closeOnce.Do(func() {
		close(notifier.done)
		err = notifier.watcher.Close()
	})
	return err
}

func (notifier *FSNotifier) run() {
	for {
		select {
		case event, ok := <-notifier.watcher.Events:
			if !ok {
				return
			}
			notifier.dispatch(event)
		case err, ok := <-notifier.watcher.Errors:
			if !ok {
				return
			}
			notifier.metrics.IncNotifierError()
			notifier.logger.Warn("notifier error", map[string]string{
				"error": err.Error(),
			})
		case <-notifier.done:
			return
		}
	}
}

func (notifier *FSNotifier) dispatch(event fsnotify.Event) {
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		notifier.forgetTree(event.Name)
	}
	if event.Has(fsnotify.Create) {
		notifier.extendRecursive(event.Name)
	}

	for _, entry := range notifier.snapshot() {
		if entry.recursive {
			if !isWithinPath(entry.root, event.Name) {
				continue
			}
			rel, err := filepath.Rel(entry.root, event.Name)
			if err != nil || rel == "." {
				rel = ""
			}
			entry.callback(event.Op, rel)
			continue
		}
		if event.Name == entry.root || filepath.Dir(event.Name) == entry.root {
			entry.callback(event.Op, filepath.Base(event.Name))
		}
	}
}

// extendRecursive adds a newly created directory, and anything already
// inside it, to each recursive registration covering it.
func (notifier *FSNotifier) extendRecursive(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	for _, entry := range notifier.snapshot() {
		if !entry.recursive || !isStrictlyWithin(entry.root, path) {
			continue
		}
		nested, _ := collectRecursiveDirs(path)
		for _, dir := range append([]string{path}, nested...) {
			if err := notifier.acquire(dir); err != nil {
				continue
			}
			notifier.mutex.Lock()
			if _, ok := notifier.registrations[entry.id]; ok {
				entry.dirs = append(entry.dirs, dir)
				notifier.mutex.Unlock()
				continue
			}
			notifier.mutex.Unlock()
			notifier.release(dir)
		}
	}
}

// forgetTree drops path and every tracked directory below it once path is
// removed or renamed away. fsnotify has already lost those watches, so a
// directory recreated under the same name must be added again.
func (notifier *FSNotifier) forgetTree(path string) {
	notifier.mutex.Lock()
	var gone []string
	for dir := range notifier.refs {
		if isWithinPath(path, dir) {
			gone = append(gone, dir)
			delete(notifier.refs, dir)
		}
	}
	if len(gone) > 0 {
		for _, entry := range notifier.registrations {
			kept := entry.dirs[:0]
			for _, dir := range entry.dirs {
				if !isWithinPath(path, dir) {
					kept = append(kept, dir)
				}
			}
			entry.dirs = kept
		}
	}
	notifier.mutex.Unlock()

	for _, dir := range gone {
		if err := notifier.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) && !errors.Is(err, fsnotify.ErrClosed) {
			notifier.logger.Debug("watch remove failed", map[string]string{
				"path":  dir,
				"error": err.Error(),
			})
		}
	}
}

func (notifier *FSNotifier) snapshot() []*registration {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	entries := make([]*registration, 0, len(notifier.registrations))
	for _, entry := range notifier.registrations {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return entries
}

func (notifier *FSNotifier) stop(id uint64) error {
	notifier.mutex.Lock()
	entry, ok := notifier.registrations[id]
	delete(notifier.registrations, id)
	var dirs []string
	if ok {
		dirs = append(dirs, entry.dirs...)
	}
	notifier.mutex.Unlock()

	notifier.releaseAll(dirs)
	return nil
}

// acquire adds path to fsnotify on its first reference.
func (notifier *FSNotifier) acquire(path string) error {
	notifier.mutex.Lock()
	notifier.refs[path]++
	needsAdd := notifier.refs[path] == 1
	notifier.mutex.Unlock()

	if !needsAdd {
		return nil
	}
	if err := notifier.watcher.Add(path); err != nil {
		notifier.mutex.Lock()
		notifier.dropRefLocked(path)
		notifier.mutex.Unlock()
		return err
	}
	return nil
}

// release removes path from fsnotify once its last reference is gone.
func (notifier *FSNotifier) release(path string) {
	notifier.mutex.Lock()
	remove := notifier.dropRefLocked(path)
	notifier.mutex.Unlock()

	if !remove {
		return
	}
	if err := notifier.watcher.Remove(path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) && !errors.Is(err, fsnotify.ErrClosed) {
		notifier.logger.Debug("watch remove failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
	}
}

func (notifier *FSNotifier) releaseAll(paths []string) {
	for _, path := range paths {
		notifier.release(path)
	}
}

func (notifier *FSNotifier) dropRefLocked(path string) bool {
	count := notifier.refs[path]
	if count <= 1 {
		delete(notifier.refs, path)
		return count == 1
	}
	notifier.refs[path] = count - 1
	return false
}
