package logging

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"devwatch/internal/buffer"
)

type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// String renders the entry as a logfmt line with context keys sorted.
func (entry LogEntry) String() string {
	var builder strings.Builder
	builder.WriteString("level=")
	builder.WriteString(string(entry.Level))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteString(" ")
		builder.WriteString(key)
		builder.WriteString("=")
		builder.WriteString(strconv.Quote(entry.Context[key]))
	}
	return builder.String()
}

// LogBuffer keeps the most recent entries for the logs endpoint.
type LogBuffer struct {
	mu   sync.Mutex
	ring *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{ring: buffer.NewRing[LogEntry](size)}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.ring.Add(entry)
	b.mu.Unlock()
}

// List returns buffered entries oldest first.
func (b *LogBuffer) List() []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.List()
}
