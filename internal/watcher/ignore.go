package watcher

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

func compileIgnore(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" || strings.HasPrefix(pattern, "#") {
			continue
		}
		g, err := glob.Compile(filepath.ToSlash(pattern), '/')
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

// isIgnored matches the trigger's full slash path and its base name.
func (w *Watcher) isIgnored(trigger string) bool {
	if len(w.ignore) == 0 {
		return false
	}
	normalized := filepath.ToSlash(trigger)
	base := filepath.Base(trigger)
	for _, pattern := range w.ignore {
		if pattern.Match(normalized) || pattern.Match(base) {
			return true
		}
	}
	return false
}
