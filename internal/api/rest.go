package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"devwatch/internal/event"
	"devwatch/internal/logging"
	"devwatch/internal/metrics"
	"devwatch/internal/version"
	"devwatch/internal/watcher"
)

type RestHandler struct {
	Watcher *watcher.Watcher
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

type healthResponse struct {
	Status     string              `json:"status"`
	Version    version.VersionInfo `json:"version"`
	Mode       string              `json:"mode,omitempty"`
	ThrottleMS int64               `json:"throttle_ms"`
}

type watchesResponse struct {
	WatchedPaths  []string `json:"watched_paths"`
	FilteredFiles []string `json:"filtered_files"`
}

type changePayload struct {
	Type      string    `json:"type"`
	Owners    []string  `json:"owners"`
	Trigger   string    `json:"trigger"`
	Op        string    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

func newChangePayload(change watcher.ChangeEvent) changePayload {
	return changePayload{
		Type:      change.Type(),
		Owners:    change.Owners,
		Trigger:   change.Trigger,
		Op:        change.Op.String(),
		Timestamp: change.Timestamp,
	}
}

func (h *RestHandler) changeBus() *event.Bus[watcher.ChangeEvent] {
	if h.Watcher == nil {
		return nil
	}
	return h.Watcher.Events()
}

func (h *RestHandler) requireWatcher() *apiError {
	if h.Watcher == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "watcher unavailable"}
	}
	return nil
}

func (h *RestHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, methodNotAllowed(w, "GET"))
		return
	}
	response := healthResponse{
		Status:  "ok",
		Version: version.GetVersionInfo(),
	}
	if h.Watcher != nil {
		response.Mode = string(h.Watcher.Mode())
		response.ThrottleMS = h.Watcher.Throttle().Milliseconds()
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, methodNotAllowed(w, "GET"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := h.Metrics.WritePrometheus(w); err != nil {
		h.Logger.Warn("metrics write failed", map[string]string{
			"error": err.Error(),
		})
	}
}

func (h *RestHandler) handleWatches(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireWatcher(); err != nil {
		return err
	}
	response := watchesResponse{
		WatchedPaths:  h.Watcher.WatchedPaths(),
		FilteredFiles: h.Watcher.FilteredFiles(),
	}
	if response.FilteredFiles == nil {
		response.FilteredFiles = []string{}
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

// handleChanges returns the retained recent change events, oldest first.
func (h *RestHandler) handleChanges(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireWatcher(); err != nil {
		return err
	}
	history := h.Watcher.Events().DumpHistory()
	payloads := make([]changePayload, 0, len(history))
	for _, change := range history {
		payloads = append(payloads, newChangePayload(change))
	}
	writeJSON(w, http.StatusOK, payloads)
	return nil
}

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	buffer := h.Logger.Buffer()
	if buffer == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "log buffer unavailable"}
	}

	query := r.URL.Query()
	var level logging.Level
	if raw := strings.TrimSpace(query.Get("level")); raw != "" {
		parsed, ok := logging.ParseLevel(raw)
		if !ok {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		level = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		limit = parsed
	}

	entries := buffer.List()
	filtered := make([]logging.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if level != "" && !entry.Level.AtLeast(level) {
			continue
		}
		filtered = append(filtered, entry)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	writeJSON(w, http.StatusOK, filtered)
	return nil
}
