package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// isWithinPath reports whether child equals parent or lies beneath it.
func isWithinPath(parent, child string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

func isStrictlyWithin(parent, child string) bool {
	return filepath.Clean(parent) != filepath.Clean(child) && isWithinPath(parent, child)
}

// collectRecursiveDirs lists every directory below root, excluding root.
func collectRecursiveDirs(root string) ([]string, error) {
	dirs := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() || path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}
