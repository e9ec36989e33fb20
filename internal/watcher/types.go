package watcher

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"devwatch/internal/ipc"
	"devwatch/internal/logging"
	"devwatch/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
)

const EventTypeChanged = "changed"

const (
	DefaultThrottle = 500 * time.Millisecond
	// MaxThrottle is the longest delay a deferred timer accepts on every
	// platform the watcher targets (a signed 32-bit millisecond count).
	MaxThrottle = time.Duration(math.MaxInt32) * time.Millisecond
)

var (
	ErrInvalidThrottle = errors.New("throttle out of range")
	ErrInvalidMode     = errors.New("invalid watch mode")
	ErrClosed          = errors.New("watcher is closed")
)

// Mode selects which notifications are emitted.
type Mode string

const (
	// ModeFilter emits only for files registered through FilterFile.
	ModeFilter Mode = "filter"
	// ModeAll emits for every notification.
	ModeAll Mode = "all"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeFilter:
		return ModeFilter, nil
	case ModeAll:
		return ModeAll, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, value)
	}
}

// ChangeEvent is emitted once per throttle window for a trigger path.
// Owners is nil when no owner depends on the trigger.
type ChangeEvent struct {
	Owners    []string
	Trigger   string
	Op        fsnotify.Op
	Timestamp time.Time
}

func (ChangeEvent) Type() string {
	return EventTypeChanged
}

// Handle releases a watch started by a Notifier.
type Handle interface {
	Close() error
}

// NotifyFunc receives raw notifications. For recursive starts name is
// relative to the started path; otherwise it is the base name of the
// changed entry. name may be empty when it cannot be determined.
type NotifyFunc func(op fsnotify.Op, name string)

// Notifier is the OS notification primitive.
type Notifier interface {
	Start(path string, recursive bool, callback NotifyFunc) (Handle, error)
}

// Options configures a Watcher. Throttle is used as given; start from
// DefaultOptions for the standard 500ms window.
type Options struct {
	Throttle time.Duration
	Mode     Mode
	// RecursiveSupported reports whether one watch can cover a directory
	// subtree. Resolve it once with ProbeRecursiveSupport.
	RecursiveSupported bool
	// Notifier defaults to an fsnotify-backed notifier owned by the Watcher.
	Notifier Notifier
	// Upstream is the passthrough channel to this process's own parent.
	Upstream ipc.Channel
	Clock    clock.Clock
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	// Ignore holds glob patterns matched against trigger paths and base names.
	Ignore []string
	// DropHandler observes child messages that were discarded.
	DropHandler func(error)
	// EventHistory is the number of recent events retained on the bus.
	EventHistory int
}

func DefaultOptions() Options {
	return Options{
		Throttle: DefaultThrottle,
		Mode:     ModeFilter,
	}
}
