package watcher

import "runtime"

// ProbeRecursiveSupport reports whether a single watch can cover a
// directory subtree on this platform. Where it cannot, FilterFile watches
// each file on its own instead of its containing directory.
func ProbeRecursiveSupport() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	default:
		return false
	}
}
