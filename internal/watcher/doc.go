// Package watcher implements the file-change layer behind watch mode.
//
// A Watcher keeps a registry of filesystem watches, the owner/file
// dependency graph reported by monitored children, and a per-path throttle.
// Raw notifications that survive ignore globs, the throttle, and (in filter
// mode) the set of tracked files are emitted as ChangeEvents carrying the
// owners of the changed file. Deciding what to restart is left to the
// consumer.
//
// All mutable state is guarded by a single mutex, so notifier callbacks,
// throttle timers, IPC listeners and public calls observe one serialized
// order. Change callbacks run outside that lock and may call back into the
// Watcher.
package watcher
