package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"devwatch/internal/api"
	"devwatch/internal/cli"
	"devwatch/internal/config"
	"devwatch/internal/ipc"
	"devwatch/internal/logging"
	"devwatch/internal/metrics"
	"devwatch/internal/version"
	"devwatch/internal/watcher"
)

const (
	changeHistorySize = 100
	shutdownTimeout   = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags, fs, err := cli.ParseDaemonFlags("devwatch", args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.Help {
		fs.Usage()
		return 0
	}
	if flags.Version {
		fmt.Fprintln(stdout, version.GetVersionInfo().String())
		return 0
	}
	if flags.PrintSchema {
		payload, err := config.SchemaJSON()
		if err != nil {
			fmt.Fprintf(stderr, "schema: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(payload))
		return 0
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), level, stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	stopSignals := watchShutdownSignals(logger, cancel, signals)
	defer stopSignals()

	if err := serve(ctx, cfg, flags, stdin, stdout, logger); err != nil {
		logger.Error("devwatch stopped", map[string]string{
			"error": err.Error(),
		})
		return 1
	}
	return 0
}

func loadConfig(flags *cli.DaemonFlags) (config.Config, error) {
	path := flags.ConfigPath
	if !flags.Set["config"] {
		path = findConfigFile(path)
	}
	cfg, err := config.Load(path, os.LookupEnv)
	if err != nil {
		return config.Config{}, err
	}
	if flags.Set["listen"] {
		cfg.Listen = flags.Listen
	}
	if flags.Set["mode"] {
		cfg.Mode = flags.Mode
	}
	if flags.Set["throttle-ms"] {
		cfg.ThrottleMS = flags.ThrottleMS
	}
	if flags.Set["log-level"] {
		cfg.LogLevel = flags.LogLevel
	}
	cfg.Paths = append(cfg.Paths, flags.Paths...)
	return cfg, cfg.Validate()
}

// findConfigFile picks devwatch.toml, then devwatch.yaml, then devwatch.yml
// from the working directory. The default name is returned when none exist.
func findConfigFile(fallback string) string {
	for _, name := range []string{"devwatch.toml", "devwatch.yaml", "devwatch.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return fallback
}

func serve(ctx context.Context, cfg config.Config, flags *cli.DaemonFlags, stdin io.Reader, stdout io.Writer, logger *logging.Logger) error {
	registry := metrics.Default
	mode, err := watcher.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	options := watcher.Options{
		Throttle:           cfg.Throttle(),
		Mode:               mode,
		RecursiveSupported: cfg.RecursiveSupported(watcher.ProbeRecursiveSupport),
		Logger:             logger,
		Metrics:            registry,
		Ignore:             cfg.Ignore,
		EventHistory:       changeHistorySize,
	}
	upstream, err := ipc.FromEnv(ipc.ConnOptions{OnError: ipcErrorLogger(logger, "upstream")})
	if err != nil {
		return err
	}
	if upstream != nil {
		options.Upstream = upstream
		defer upstream.Close()
	}

	w, err := watcher.New(options)
	if err != nil {
		return err
	}
	coordinator := newShutdownCoordinator(logger)

	logger.Info("watcher started", map[string]string{
		"mode":                string(w.Mode()),
		"throttle_ms":         strconv.FormatInt(w.Throttle().Milliseconds(), 10),
		"recursive_supported": strconv.FormatBool(options.RecursiveSupported),
		"upstream":            strconv.FormatBool(upstream != nil),
	})

	for _, path := range cfg.Paths {
		absolute, err := filepath.Abs(path)
		if err != nil {
			_ = w.Close()
			return err
		}
		if err := w.WatchPath(absolute, true); err != nil {
			_ = w.Close()
			return err
		}
	}

	if flags.Reports {
		child := ipc.NewConn(stdin, stdout, ipc.ConnOptions{OnError: ipcErrorLogger(logger, flags.Owner)})
		relay := w.WatchChildProcessModules(child, flags.Owner)
		coordinator.Add("ipc relay", func(context.Context) error {
			w.DestroyIPC(relay)
			w.StopChildReports(relay)
			return child.Close()
		})
	}

	w.OnChange(func(change watcher.ChangeEvent) {
		logger.Info("change", map[string]string{
			"trigger": change.Trigger,
			"owners":  strings.Join(change.Owners, ","),
			"op":      change.Op.String(),
		})
	})

	serverErr := make(chan error, 1)
	if cfg.Listen != "" {
		mux := http.NewServeMux()
		api.RegisterRoutes(mux, api.Config{
			Watcher:   w,
			Logger:    logger,
			Metrics:   registry,
			AuthToken: cfg.AuthToken,
		})
		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("devwatch listening", map[string]string{
				"addr": server.Addr,
			})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
		coordinator.Add("http server", server.Shutdown)
	}
	coordinator.Add("watcher", func(context.Context) error {
		return w.Close()
	})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, coordinator.Run(shutdownCtx))
}

func ipcErrorLogger(logger *logging.Logger, channel string) func(error) {
	return func(err error) {
		if errors.Is(err, io.EOF) {
			return
		}
		logger.Warn("ipc read failed", map[string]string{
			"channel": channel,
			"error":   err.Error(),
		})
	}
}
