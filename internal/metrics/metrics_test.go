package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestWritePrometheusIncludesCounters(t *testing.T) {
	registry := New()
	registry.IncNotification()
	registry.IncNotification()
	registry.IncChangeEmitted()
	registry.IncDiscarded(ReasonThrottled)
	registry.IncEventPublished("watcher_changes", "changed")
	registry.SetActiveWatches(3)

	var out bytes.Buffer
	if err := registry.WritePrometheus(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	body := out.String()

	expected := []string{
		"devwatch_notifications_total 2",
		"devwatch_changes_emitted_total 1",
		"devwatch_active_watches 3",
		`devwatch_notifications_discarded_total{reason="throttled"} 1`,
		`devwatch_bus_events_published_total{bus="watcher_changes",type="changed"} 1`,
	}
	for _, line := range expected {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in output:\n%s", line, body)
		}
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.IncNotification()
	registry.IncDiscarded(ReasonFiltered)
	if snapshot := registry.Snapshot(); snapshot.Notifications != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snapshot)
	}
}

func TestSnapshotCountsDiscards(t *testing.T) {
	registry := New()
	registry.IncDiscarded(ReasonFiltered)
	registry.IncDiscarded(ReasonFiltered)
	registry.IncDiscarded("")

	snapshot := registry.Snapshot()
	if snapshot.Discarded[ReasonFiltered] != 2 {
		t.Fatalf("expected 2 filtered discards, got %v", snapshot.Discarded)
	}
	if snapshot.Discarded["unknown"] != 1 {
		t.Fatalf("expected unknown reason, got %v", snapshot.Discarded)
	}
}
