package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"devwatch/internal/logging"
	"devwatch/internal/watcher"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen   = "127.0.0.1:7717"
	DefaultLogLevel = "info"

	RecursiveAuto   = "auto"
	RecursiveAlways = "always"
	RecursiveNever  = "never"
)

const (
	EnvThrottleMS = "DEVWATCH_THROTTLE_MS"
	EnvMode       = "DEVWATCH_MODE"
	EnvRecursive  = "DEVWATCH_RECURSIVE"
	EnvListen     = "DEVWATCH_LISTEN"
	EnvLogLevel   = "DEVWATCH_LOG_LEVEL"
	EnvAuthToken  = "DEVWATCH_AUTH_TOKEN"
)

var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config is the daemon configuration. Keys match the file format; the
// struct tags also drive the generated JSON schema.
type Config struct {
	ThrottleMS int64    `toml:"throttle_ms" yaml:"throttle_ms" json:"throttle_ms,omitempty" jsonschema:"minimum=0,maximum=2147483647,description=Throttle window per trigger in milliseconds. Defaults to 500."`
	Mode       string   `toml:"mode" yaml:"mode" json:"mode,omitempty" jsonschema:"enum=filter,enum=all,description=Emit only for tracked files (filter) or for every change (all)."`
	Recursive  string   `toml:"recursive" yaml:"recursive" json:"recursive,omitempty" jsonschema:"enum=auto,enum=always,enum=never,description=Whether one watch covers a directory subtree. auto probes the platform."`
	Paths      []string `toml:"paths" yaml:"paths" json:"paths,omitempty" jsonschema:"description=Paths watched recursively at startup."`
	Ignore     []string `toml:"ignore" yaml:"ignore" json:"ignore,omitempty" jsonschema:"description=Glob patterns for triggers that never emit."`
	Listen     string   `toml:"listen" yaml:"listen" json:"listen,omitempty" jsonschema:"description=HTTP listen address. Empty disables the server."`
	LogLevel   string   `toml:"log_level" yaml:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warning,enum=error"`
	AuthToken  string   `toml:"auth_token" yaml:"auth_token" json:"auth_token,omitempty" jsonschema:"description=Bearer token required by the HTTP API when set."`
}

func Default() Config {
	return Config{
		ThrottleMS: watcher.DefaultThrottle.Milliseconds(),
		Mode:       string(watcher.ModeFilter),
		Recursive:  RecursiveAuto,
		Listen:     DefaultListen,
		LogLevel:   DefaultLogLevel,
	}
}

// Load reads path (when set), applies environment overrides from lookup and
// validates the result. A missing file is not an error.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	values := map[string]any{}
	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		} else {
			decoded, err := decode(path, payload)
			if err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
			values = decoded
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	overrides, err := envOverrides(lookup)
	if err != nil {
		return Config{}, err
	}
	for key, value := range overrides {
		values[key] = value
	}

	defaults := Default()
	cfg := Config{
		ThrottleMS: defaults.ThrottleMS,
		Mode:       stringSetting(values, "mode", defaults.Mode),
		Recursive:  stringSetting(values, "recursive", defaults.Recursive),
		Paths:      listSetting(values, "paths"),
		Ignore:     listSetting(values, "ignore"),
		Listen:     stringSetting(values, "listen", defaults.Listen),
		LogLevel:   stringSetting(values, "log_level", defaults.LogLevel),
		AuthToken:  stringSetting(values, "auth_token", ""),
	}
	if raw, ok := values["throttle_ms"]; ok {
		parsed, ok := asInt64(raw)
		if !ok {
			return Config{}, fmt.Errorf("throttle_ms: expected an integer, got %v", raw)
		}
		cfg.ThrottleMS = parsed
	}
	if raw, ok := values["listen"].(string); ok && strings.TrimSpace(raw) == "" {
		cfg.Listen = ""
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid key.
func (c Config) Validate() error {
	// Compared in milliseconds; converting first can overflow Duration.
	if c.ThrottleMS < 0 || c.ThrottleMS > watcher.MaxThrottle.Milliseconds() {
		return fmt.Errorf("throttle_ms: %w: %d", watcher.ErrInvalidThrottle, c.ThrottleMS)
	}
	if _, err := watcher.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	switch c.Recursive {
	case RecursiveAuto, RecursiveAlways, RecursiveNever:
	default:
		return fmt.Errorf("recursive: must be auto, always or never, got %q", c.Recursive)
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	for index, path := range c.Paths {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("paths[%d]: empty path", index)
		}
	}
	return nil
}

func (c Config) Throttle() time.Duration {
	return time.Duration(c.ThrottleMS) * time.Millisecond
}

// RecursiveSupported resolves the recursive setting, calling probe for auto.
func (c Config) RecursiveSupported(probe func() bool) bool {
	switch c.Recursive {
	case RecursiveAlways:
		return true
	case RecursiveNever:
		return false
	default:
		return probe != nil && probe()
	}
}

func decode(path string, payload []byte) (map[string]any, error) {
	values := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(payload, &values); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(payload, &values); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	return values, nil
}

func envOverrides(lookup func(string) (string, bool)) (map[string]any, error) {
	overrides := map[string]any{}
	if raw, ok := lookup(EnvThrottleMS); ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvThrottleMS, err)
		}
		overrides["throttle_ms"] = parsed
	}
	for key, env := range map[string]string{
		"mode":       EnvMode,
		"recursive":  EnvRecursive,
		"listen":     EnvListen,
		"log_level":  EnvLogLevel,
		"auth_token": EnvAuthToken,
	} {
		if raw, ok := lookup(env); ok {
			overrides[key] = raw
		}
	}
	return overrides, nil
}

func stringSetting(values map[string]any, key string, fallback string) string {
	value, ok := values[key]
	if !ok {
		return fallback
	}
	if parsed, ok := value.(string); ok && strings.TrimSpace(parsed) != "" {
		return strings.TrimSpace(parsed)
	}
	return fallback
}

func listSetting(values map[string]any, key string) []string {
	raw, ok := values[key].([]any)
	if !ok {
		if typed, ok := values[key].([]string); ok {
			return typed
		}
		return nil
	}
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		if value, ok := item.(string); ok {
			items = append(items, value)
		}
	}
	return items
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	}
	return 0, false
}
