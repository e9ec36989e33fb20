package logging

import "strings"

// Level orders log entries; the zero value ranks as info.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel accepts the config and query spellings, including "warn".
func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

// AtLeast reports whether l is as severe as min.
func (l Level) AtLeast(min Level) bool {
	return l.rank() >= min.rank()
}

func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}
