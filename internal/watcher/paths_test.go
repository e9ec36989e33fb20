package watcher

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsWithinPath(t *testing.T) {
	cases := []struct {
		parent string
		child  string
		want   bool
	}{
		{"/src", "/src", true},
		{"/src", "/src/a/b.js", true},
		{"/src/", "/src/a", true},
		{"/src", "/srcs/a", false},
		{"/src", "/", false},
		{"/src/a", "/src", false},
	}
	for _, tc := range cases {
		if got := isWithinPath(tc.parent, tc.child); got != tc.want {
			t.Fatalf("isWithinPath(%q, %q) = %v, want %v", tc.parent, tc.child, got, tc.want)
		}
	}
	if isStrictlyWithin("/src", "/src") {
		t.Fatalf("path is not strictly within itself")
	}
}

func TestCollectRecursiveDirs(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"a/b", "c"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "a", "file.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dirs, err := collectRecursiveDirs(root)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(dirs) != 3 {
		t.Fatalf("expected 3 directories, got %v", dirs)
	}
}
