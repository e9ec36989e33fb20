package api

import (
	"net/http"

	"devwatch/internal/logging"
	"devwatch/internal/metrics"
	"devwatch/internal/watcher"
)

type Config struct {
	Watcher        *watcher.Watcher
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
}

func RegisterRoutes(mux *http.ServeMux, config Config) {
	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With(map[string]string{"devwatch.category": "api"})

	registry := config.Metrics
	if registry == nil {
		registry = metrics.Default
	}

	rest := &RestHandler{
		Watcher: config.Watcher,
		Logger:  logger,
		Metrics: registry,
	}

	mux.Handle("/healthz", loggingMiddleware(logger, securityHeadersHandler(cacheControlNoStore, rest.handleHealth)))
	mux.Handle("/metrics", loggingMiddleware(logger, securityHeadersHandler(cacheControlNoStore, rest.handleMetrics)))
	mux.Handle("/api/watches", loggingMiddleware(logger, restHandler(config.AuthToken, rest.handleWatches)))
	mux.Handle("/api/changes", loggingMiddleware(logger, restHandler(config.AuthToken, rest.handleChanges)))
	mux.Handle("/api/logs", loggingMiddleware(logger, restHandler(config.AuthToken, rest.handleLogs)))
	mux.Handle("/ws/changes", loggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWSBusStream(w, r, wsBusStreamConfig[watcher.ChangeEvent]{
			Logger:            logger,
			AuthToken:         config.AuthToken,
			AllowedOrigins:    config.AllowedOrigins,
			Bus:               rest.changeBus(),
			UnavailableReason: "change stream unavailable",
			BuildPayload: func(change watcher.ChangeEvent) (any, bool) {
				return newChangePayload(change), true
			},
		})
	})))
}
