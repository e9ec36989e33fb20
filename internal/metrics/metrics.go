package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Discard reasons reported by the change debouncer.
const (
	ReasonThrottled = "throttled"
	ReasonFiltered  = "filtered"
	ReasonIgnored   = "ignored"
	ReasonStale     = "stale"
)

type Registry struct {
	notifications  atomic.Int64
	changesEmitted atomic.Int64
	ipcDropped     atomic.Int64
	notifierErrors atomic.Int64
	activeWatches  atomic.Int64
	discarded      sync.Map
	busPublished   sync.Map
	busDropped     sync.Map
}

var Default = &Registry{}

func New() *Registry {
	return &Registry{}
}

func (r *Registry) IncNotification() {
	if r == nil {
		return
	}
	r.notifications.Add(1)
}

func (r *Registry) IncChangeEmitted() {
	if r == nil {
		return
	}
	r.changesEmitted.Add(1)
}

func (r *Registry) IncDiscarded(reason string) {
	if r == nil {
		return
	}
	counter(&r.discarded, labelOrUnknown(reason)).Add(1)
}

func (r *Registry) IncIPCDropped() {
	if r == nil {
		return
	}
	r.ipcDropped.Add(1)
}

func (r *Registry) IncNotifierError() {
	if r == nil {
		return
	}
	r.notifierErrors.Add(1)
}

func (r *Registry) SetActiveWatches(count int) {
	if r == nil {
		return
	}
	r.activeWatches.Store(int64(count))
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	counter(&r.busPublished, busKey(bus, eventType)).Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	counter(&r.busDropped, busKey(bus, eventType)).Add(1)
}

// Snapshot is a point-in-time copy of the scalar counters.
type Snapshot struct {
	Notifications  int64            `json:"notifications"`
	ChangesEmitted int64            `json:"changes_emitted"`
	IPCDropped     int64            `json:"ipc_dropped"`
	NotifierErrors int64            `json:"notifier_errors"`
	ActiveWatches  int64            `json:"active_watches"`
	Discarded      map[string]int64 `json:"discarded,omitempty"`
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		Notifications:  r.notifications.Load(),
		ChangesEmitted: r.changesEmitted.Load(),
		IPCDropped:     r.ipcDropped.Load(),
		NotifierErrors: r.notifierErrors.Load(),
		ActiveWatches:  r.activeWatches.Load(),
		Discarded:      loadAll(&r.discarded),
	}
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "devwatch_notifications_total", "Raw filesystem notifications received", r.notifications.Load())
	writeCounter(writer, "devwatch_changes_emitted_total", "Change events emitted", r.changesEmitted.Load())
	writeCounter(writer, "devwatch_ipc_messages_dropped_total", "Child IPC messages discarded", r.ipcDropped.Load())
	writeCounter(writer, "devwatch_notifier_errors_total", "Notifier errors", r.notifierErrors.Load())
	writeHelp(writer, "devwatch_active_watches", "Registered watch roots")
	fmt.Fprintln(writer, "# TYPE devwatch_active_watches gauge")
	fmt.Fprintf(writer, "devwatch_active_watches %d\n", r.activeWatches.Load())

	discarded := loadAll(&r.discarded)
	writeHelp(writer, "devwatch_notifications_discarded_total", "Notifications discarded before emission")
	fmt.Fprintln(writer, "# TYPE devwatch_notifications_discarded_total counter")
	for _, reason := range sortedKeys(discarded) {
		fmt.Fprintf(writer, "devwatch_notifications_discarded_total{reason=%s} %d\n", formatLabel(reason), discarded[reason])
	}

	writeBusCounters(writer, "devwatch_bus_events_published_total", "Events published on a bus", loadAll(&r.busPublished))
	writeBusCounters(writer, "devwatch_bus_events_dropped_total", "Events dropped for slow subscribers", loadAll(&r.busDropped))
	return nil
}

func writeBusCounters(writer io.Writer, metric, help string, values map[string]int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	for _, key := range sortedKeys(values) {
		bus, eventType, _ := strings.Cut(key, "\x00")
		fmt.Fprintf(writer, "%s{bus=%s,type=%s} %d\n", metric, formatLabel(bus), formatLabel(eventType), values[key])
	}
}

func counter(store *sync.Map, key string) *atomic.Int64 {
	value, _ := store.LoadOrStore(key, &atomic.Int64{})
	return value.(*atomic.Int64)
}

func loadAll(store *sync.Map) map[string]int64 {
	out := map[string]int64{}
	store.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortedKeys(values map[string]int64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func busKey(bus, eventType string) string {
	return labelOrUnknown(bus) + "\x00" + labelOrUnknown(eventType)
}

func labelOrUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
