package watcher

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"devwatch/internal/event"
	"devwatch/internal/ipc"
	"devwatch/internal/logging"
	"devwatch/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/gobwas/glob"
	"golang.org/x/time/rate"
)

const (
	dropLogInterval = time.Second
	dropLogBurst    = 5
)

// Watcher is the watch registry, dependency graph, change debouncer and IPC
// relay behind watch mode.
type Watcher struct {
	mutex              sync.Mutex
	notifier           Notifier
	ownsNotifier       bool
	clock              clock.Clock
	logger             *logging.Logger
	metrics            *metrics.Registry
	mode               Mode
	throttle           time.Duration
	recursiveSupported bool
	ignore             []glob.Glob
	upstream           ipc.Channel
	dropHandler        func(error)
	dropLimiter        *rate.Limiter

	watches        map[string]*watchEntry
	nextGeneration uint64
	filtered       map[string]struct{}
	ownerFiles     map[string]map[string]struct{}
	fileOwners     map[string]map[string]struct{}
	throttling     map[string]throttleEntry
	nextThrottle   uint64

	listeners      map[uint64]func(ChangeEvent)
	nextListenerID uint64
	bus            *event.Bus[ChangeEvent]
	closed         bool
}

// New validates options and builds a Watcher. Invalid options never yield
// a usable instance.
func New(options Options) (*Watcher, error) {
	if options.Throttle < 0 || options.Throttle > MaxThrottle {
		return nil, fmt.Errorf("%w: %s not in [0, %s]", ErrInvalidThrottle, options.Throttle, MaxThrottle)
	}
	mode, err := ParseMode(string(options.Mode))
	if err != nil {
		return nil, err
	}
	ignore, err := compileIgnore(options.Ignore)
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With(map[string]string{"devwatch.category": "watcher"})

	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}

	watchClock := options.Clock
	if watchClock == nil {
		watchClock = clock.New()
	}

	notifier := options.Notifier
	ownsNotifier := false
	if notifier == nil {
		fsNotifier, err := NewFSNotifier(logger, registry)
		if err != nil {
			return nil, err
		}
		notifier = fsNotifier
		ownsNotifier = true
	}

	return &Watcher{
		notifier:           notifier,
		ownsNotifier:       ownsNotifier,
		clock:              watchClock,
		logger:             logger,
		metrics:            registry,
		mode:               mode,
		throttle:           options.Throttle,
		recursiveSupported: options.RecursiveSupported,
		ignore:             ignore,
		upstream:           options.Upstream,
		dropHandler:        options.DropHandler,
		dropLimiter:        rate.NewLimiter(rate.Every(dropLogInterval), dropLogBurst),
		watches:            make(map[string]*watchEntry),
		filtered:           make(map[string]struct{}),
		ownerFiles:         make(map[string]map[string]struct{}),
		fileOwners:         make(map[string]map[string]struct{}),
		throttling:         make(map[string]throttleEntry),
		listeners:          make(map[uint64]func(ChangeEvent)),
		bus: event.NewBus[ChangeEvent](context.Background(), event.BusOptions{
			Name:        "watcher_changes",
			HistorySize: options.EventHistory,
			Registry:    registry,
			Logger:      logger,
		}),
	}, nil
}

func (w *Watcher) Mode() Mode {
	return w.mode
}

func (w *Watcher) Throttle() time.Duration {
	return w.throttle
}

// OnChange registers a callback invoked for every emitted event, in
// registration order. The returned func removes it.
func (w *Watcher) OnChange(callback func(ChangeEvent)) func() {
	if w == nil || callback == nil {
		return func() {}
	}
	w.mutex.Lock()
	w.nextListenerID++
	id := w.nextListenerID
	w.listeners[id] = callback
	w.mutex.Unlock()

	return func() {
		w.mutex.Lock()
		delete(w.listeners, id)
		w.mutex.Unlock()
	}
}

// Events exposes emitted events for asynchronous consumers.
func (w *Watcher) Events() *event.Bus[ChangeEvent] {
	return w.bus
}

// Close tears everything down, stops pending throttle timers and, when the
// Watcher created its own notifier, closes it.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return nil
	}
	w.closed = true
	entries := w.takeWatchesLocked()
	for trigger, entry := range w.throttling {
		entry.timer.Stop()
		delete(w.throttling, trigger)
	}
	w.resetGraphLocked()
	w.listeners = make(map[uint64]func(ChangeEvent))
	w.mutex.Unlock()

	err := w.closeEntries(entries)
	w.bus.Close()
	if closer, ok := w.notifier.(io.Closer); ok && w.ownsNotifier {
		if closeErr := closer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func (w *Watcher) emit(change ChangeEvent, listeners []func(ChangeEvent)) {
	w.metrics.IncChangeEmitted()
	if w.logger.Enabled(logging.LevelDebug) {
		w.logger.Debug("change emitted", map[string]string{
			"trigger": change.Trigger,
			"owners":  strconv.Itoa(len(change.Owners)),
		})
	}
	for _, listener := range listeners {
		listener(change)
	}
	w.bus.Publish(change)
}

func (w *Watcher) listenersLocked() []func(ChangeEvent) {
	ids := make([]uint64, 0, len(w.listeners))
	for id := range w.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]func(ChangeEvent), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, w.listeners[id])
	}
	return listeners
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
