package watcher

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"devwatch/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
)

type fakeStart struct {
	path      string
	recursive bool
	callback  NotifyFunc
	handle    *fakeHandle
}

type fakeHandle struct {
	mutex  sync.Mutex
	closed bool
}

func (handle *fakeHandle) Close() error {
	handle.mutex.Lock()
	defer handle.mutex.Unlock()
	handle.closed = true
	return nil
}

func (handle *fakeHandle) isClosed() bool {
	handle.mutex.Lock()
	defer handle.mutex.Unlock()
	return handle.closed
}

type fakeNotifier struct {
	mutex  sync.Mutex
	starts []*fakeStart
	fail   map[string]error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{fail: make(map[string]error)}
}

func (notifier *fakeNotifier) Start(path string, recursive bool, callback NotifyFunc) (Handle, error) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	if err := notifier.fail[path]; err != nil {
		return nil, err
	}
	start := &fakeStart{path: path, recursive: recursive, callback: callback, handle: &fakeHandle{}}
	notifier.starts = append(notifier.starts, start)
	return start.handle, nil
}

func (notifier *fakeNotifier) startCount() int {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	return len(notifier.starts)
}

// latest returns the most recent start for path.
func (notifier *fakeNotifier) latest(t *testing.T, path string) *fakeStart {
	t.Helper()
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	for i := len(notifier.starts) - 1; i >= 0; i-- {
		if notifier.starts[i].path == path {
			return notifier.starts[i]
		}
	}
	t.Fatalf("no watch started for %s", path)
	return nil
}

func (notifier *fakeNotifier) fire(t *testing.T, path string, name string) {
	t.Helper()
	notifier.latest(t, path).callback(fsnotify.Write, name)
}

var errNoSuchPath = errors.New("no such file or directory")

type recorder struct {
	mutex  sync.Mutex
	events []ChangeEvent
}

func (r *recorder) record(change ChangeEvent) {
	r.mutex.Lock()
	r.events = append(r.events, change)
	r.mutex.Unlock()
}

func (r *recorder) snapshot() []ChangeEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]ChangeEvent(nil), r.events...)
}

type testWatcher struct {
	*Watcher
	notifier *fakeNotifier
	clock    *clock.Mock
	metrics  *metrics.Registry
	events   *recorder
}

func newTestWatcher(t *testing.T, configure func(*Options)) *testWatcher {
	t.Helper()
	notifier := newFakeNotifier()
	mockClock := clock.NewMock()
	registry := metrics.New()
	options := DefaultOptions()
	options.Throttle = 100 * time.Millisecond
	options.Notifier = notifier
	options.Clock = mockClock
	options.Metrics = registry
	if configure != nil {
		configure(&options)
	}
	watcher, err := New(options)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { _ = watcher.Close() })

	events := &recorder{}
	watcher.OnChange(events.record)
	return &testWatcher{
		Watcher:  watcher,
		notifier: notifier,
		clock:    mockClock,
		metrics:  registry,
		events:   events,
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func (w *Watcher) isThrottled(trigger string) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	_, ok := w.throttling[trigger]
	return ok
}

// watchedDirs lists the directories currently registered with fsnotify.
func (notifier *FSNotifier) watchedDirs() []string {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	dirs := make([]string, 0, len(notifier.refs))
	for dir := range notifier.refs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

func (notifier *FSNotifier) isWatching(dir string) bool {
	for _, watched := range notifier.watchedDirs() {
		if watched == dir {
			return true
		}
	}
	return false
}
