package watcher

import (
	"devwatch/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
)

type throttleEntry struct {
	id    uint64
	timer *clock.Timer
}

// onChangeLocked decides whether a raw notification for trigger becomes a
// ChangeEvent. An accepted trigger is throttled until its timer fires.
func (w *Watcher) onChangeLocked(trigger string, op fsnotify.Op) (ChangeEvent, bool) {
	if w.isIgnored(trigger) {
		w.metrics.IncDiscarded(metrics.ReasonIgnored)
		return ChangeEvent{}, false
	}
	if _, ok := w.throttling[trigger]; ok {
		w.metrics.IncDiscarded(metrics.ReasonThrottled)
		return ChangeEvent{}, false
	}
	if w.mode == ModeFilter {
		if _, ok := w.filtered[trigger]; !ok {
			w.metrics.IncDiscarded(metrics.ReasonFiltered)
			return ChangeEvent{}, false
		}
	}

	w.nextThrottle++
	id := w.nextThrottle
	w.throttling[trigger] = throttleEntry{
		id: id,
		timer: w.clock.AfterFunc(w.throttle, func() {
			w.releaseThrottle(trigger, id)
		}),
	}

	return ChangeEvent{
		Owners:    sortedKeys(w.fileOwners[trigger]),
		Trigger:   trigger,
		Op:        op,
		Timestamp: w.clock.Now().UTC(),
	}, true
}

func (w *Watcher) releaseThrottle(trigger string, id uint64) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if entry, ok := w.throttling[trigger]; ok && entry.id == id {
		delete(w.throttling, trigger)
	}
}
