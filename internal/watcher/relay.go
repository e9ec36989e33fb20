package watcher

import (
	"errors"
	"fmt"
	"sync"

	"devwatch/internal/ipc"
)

type relayState int

const (
	relayUnpaired relayState = iota
	relayPaired
	relayTornDown
)

// Relay is returned by WatchChildProcessModules and retained by the caller
// until DestroyIPC and StopChildReports.
type Relay struct {
	mutex         sync.Mutex
	child         ipc.Channel
	key           string
	state         relayState
	removeForward []func()
	removeReports func()
}

// Paired reports whether passthrough forwarding is active.
func (relay *Relay) Paired() bool {
	if relay == nil {
		return false
	}
	relay.mutex.Lock()
	defer relay.mutex.Unlock()
	return relay.state == relayPaired
}

// WatchChildProcessModules connects a monitored child. When this process
// has an upstream channel, messages are forwarded both ways between it and
// the child. In filter mode the child's dependency reports are registered
// under key through FilterFile.
func (w *Watcher) WatchChildProcessModules(child ipc.Channel, key string) *Relay {
	relay := &Relay{child: child, key: key}
	if child == nil {
		return relay
	}
	if w.upstream != nil {
		w.pair(relay, w.upstream)
	}
	if w.mode != ModeFilter {
		return relay
	}
	relay.removeReports = child.OnMessage(func(message ipc.Message) {
		w.handleChildMessage(relay, message)
	})
	return relay
}

// DestroyIPC removes the forwarding listeners installed during pairing. It
// is a no-op for relays that were never paired and for repeated calls. The
// child's dependency reports keep being registered; StopChildReports ends
// them.
func (w *Watcher) DestroyIPC(relay *Relay) {
	if relay == nil {
		return
	}
	relay.mutex.Lock()
	if relay.state != relayPaired {
		relay.mutex.Unlock()
		return
	}
	removers := relay.removeForward
	relay.removeForward = nil
	relay.state = relayTornDown
	relay.mutex.Unlock()

	for _, remove := range removers {
		remove()
	}
	w.logger.Debug("ipc relay torn down", map[string]string{"key": relay.key})
}

// StopChildReports removes the listener that registers the child's
// dependency reports.
func (w *Watcher) StopChildReports(relay *Relay) {
	if relay == nil {
		return
	}
	relay.mutex.Lock()
	removeReports := relay.removeReports
	relay.removeReports = nil
	relay.mutex.Unlock()

	if removeReports != nil {
		removeReports()
	}
}

func (w *Watcher) pair(relay *Relay, upstream ipc.Channel) {
	child := relay.child
	relay.mutex.Lock()
	relay.state = relayPaired
	relay.mutex.Unlock()

	toChild := upstream.OnMessage(func(message ipc.Message) {
		if !relay.Paired() {
			return
		}
		if err := child.Send(message); err != nil {
			w.dropMessage(relay.key, fmt.Errorf("forward to child: %w", err))
		}
	})
	toParent := child.OnMessage(func(message ipc.Message) {
		if !relay.Paired() {
			return
		}
		if err := upstream.Send(message); err != nil {
			w.dropMessage(relay.key, fmt.Errorf("forward to parent: %w", err))
		}
	})

	relay.mutex.Lock()
	relay.removeForward = []func(){toChild, toParent}
	relay.mutex.Unlock()
}

// handleChildMessage registers the dependencies listed in a child report.
// A failing entry discards the rest of the message; it never escapes. The
// parent still hears about entries registered before the failure.
func (w *Watcher) handleChildMessage(relay *Relay, message ipc.Message) {
	defer func() {
		if recovered := recover(); recovered != nil {
			w.dropMessage(relay.key, fmt.Errorf("panic handling message: %v", recovered))
		}
	}()

	registered, err := w.registerReports(message, relay.key)
	if err != nil {
		w.dropMessage(relay.key, err)
	}
	if registered == 0 || w.upstream == nil {
		return
	}
	if err := w.upstream.Send(ipc.RestartedMessage()); err != nil {
		w.dropMessage(relay.key, fmt.Errorf("notify parent: %w", err))
	}
}

// registerReports returns how many entries reached FilterFile before the
// first failure.
func (w *Watcher) registerReports(message ipc.Message, key string) (int, error) {
	requires, _, err := message.Strings(ipc.KeyRequire)
	if err != nil {
		return 0, err
	}
	imports, _, err := message.Strings(ipc.KeyImport)
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, file := range requires {
		if err := w.FilterFile(file, key); err != nil {
			return registered, err
		}
		registered++
	}
	for _, rawURL := range imports {
		file, err := ipc.FileURLToPath(rawURL)
		if err != nil {
			return registered, err
		}
		if err := w.FilterFile(file, key); err != nil {
			return registered, err
		}
		registered++
	}
	return registered, nil
}

// dropMessage routes a discarded-message diagnostic to the metrics, the
// injected DropHandler and a rate-limited log line.
func (w *Watcher) dropMessage(key string, err error) {
	w.metrics.IncIPCDropped()
	if w.dropHandler != nil {
		w.dropHandler(err)
	}
	if errors.Is(err, ErrClosed) || !w.dropLimiter.Allow() {
		return
	}
	w.logger.Warn("ipc message dropped", map[string]string{
		"key":   key,
		"error": err.Error(),
	})
}
