package logging

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("watch added", map[string]string{"path": "/src"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "watch added" {
		t.Fatalf("expected message, got %q", entries[0].Message)
	}
	if entries[0].Context["path"] != "/src" {
		t.Fatalf("expected path context, got %v", entries[0].Context)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Debug("debug", nil)
	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelWarning {
		t.Fatalf("expected warning level, got %q", entries[0].Level)
	}
}

func TestLoggerWithMergesBaseContext(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelDebug, io.Discard).With(map[string]string{
		"devwatch.category": "watcher",
	})

	logger.Debug("event", map[string]string{"trigger": "a.go"})

	entry := buffer.List()[0]
	if entry.Context["devwatch.category"] != "watcher" || entry.Context["trigger"] != "a.go" {
		t.Fatalf("unexpected context %v", entry.Context)
	}
}

func TestLoggerFormatsSortedFields(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithOutput(nil, LevelInfo, &out)

	logger.Info("hello", map[string]string{"b": "2", "a": "1"})

	line := out.String()
	if !strings.Contains(line, `level=info msg="hello" a="1" b="2"`) {
		t.Fatalf("unexpected line %q", line)
	}
}

func TestLogBufferKeepsMostRecent(t *testing.T) {
	buffer := NewLogBuffer(2)
	buffer.Add(LogEntry{Message: "one"})
	buffer.Add(LogEntry{Message: "two"})
	buffer.Add(LogEntry{Message: "three"})

	entries := buffer.List()
	if len(entries) != 2 || entries[0].Message != "two" || entries[1].Message != "three" {
		t.Fatalf("unexpected entries %v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  Level
		ok    bool
	}{
		{input: "debug", want: LevelDebug, ok: true},
		{input: " WARN ", want: LevelWarning, ok: true},
		{input: "error", want: LevelError, ok: true},
		{input: "loud", ok: false},
	}
	for _, testCase := range cases {
		got, ok := ParseLevel(testCase.input)
		if ok != testCase.ok || got != testCase.want {
			t.Fatalf("ParseLevel(%q) = %q, %v", testCase.input, got, ok)
		}
	}
}

func TestLevelAtLeast(t *testing.T) {
	if !LevelError.AtLeast(LevelWarning) || LevelInfo.AtLeast(LevelWarning) {
		t.Fatalf("unexpected ordering")
	}
	if !Level("").AtLeast(LevelInfo) || Level("").AtLeast(LevelWarning) {
		t.Fatalf("unknown levels should rank as info")
	}
}

func TestLogEntryString(t *testing.T) {
	entry := LogEntry{Level: LevelWarning, Message: "watch failed", Context: map[string]string{"path": "/src", "error": "gone"}}
	if got := entry.String(); got != `level=warning msg="watch failed" error="gone" path="/src"` {
		t.Fatalf("unexpected line %q", got)
	}
}
