package ipc

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
)

var ErrNotFileURL = errors.New("not a file URL")

// FileURLToPath converts a file:// URL reported by a module loader into a
// local filesystem path.
func FileURLToPath(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("%w: %q", ErrNotFileURL, raw)
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return "", fmt.Errorf("file URL host must be empty or localhost: %q", raw)
	}
	if strings.Contains(strings.ToLower(parsed.EscapedPath()), "%2f") {
		return "", fmt.Errorf("file URL path must not include encoded separators: %q", raw)
	}

	path := parsed.Path
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, "/")
	}
	path = filepath.FromSlash(path)
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("file URL path must be absolute: %q", raw)
	}
	return filepath.Clean(path), nil
}
