// Package ipc implements the message channel between a watcher process, the
// child it monitors, and an optional upstream parent.
//
// Messages are JSON objects framed one per line. Keys are message kinds, for
// example {"watch:require": ["/src/a.js"]}.
package ipc
