package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"devwatch/internal/logging"
	"devwatch/internal/metrics"
	"devwatch/internal/watcher"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
)

type stubHandle struct{}

func (stubHandle) Close() error { return nil }

type stubNotifier struct {
	mutex     sync.Mutex
	callbacks map[string]watcher.NotifyFunc
}

func (n *stubNotifier) Start(path string, _ bool, callback watcher.NotifyFunc) (watcher.Handle, error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.callbacks[path] = callback
	return stubHandle{}, nil
}

func (n *stubNotifier) fire(path, name string) {
	n.mutex.Lock()
	callback := n.callbacks[path]
	n.mutex.Unlock()
	callback(fsnotify.Write, name)
}

type testServer struct {
	server   *httptest.Server
	watcher  *watcher.Watcher
	notifier *stubNotifier
	logger   *logging.Logger
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	notifier := &stubNotifier{callbacks: make(map[string]watcher.NotifyFunc)}
	registry := metrics.New()
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(32), logging.LevelInfo, nil)
	w, err := watcher.New(watcher.Options{
		Mode:         watcher.ModeAll,
		Notifier:     notifier,
		Metrics:      registry,
		EventHistory: 8,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	mux := http.NewServeMux()
	RegisterRoutes(mux, Config{
		Watcher:   w,
		Logger:    logger,
		Metrics:   registry,
		AuthToken: token,
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testServer{server: server, watcher: w, notifier: notifier, logger: logger}
}

func (s *testServer) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "secret")
	res := s.get(t, "/healthz", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var payload healthResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" || payload.Mode != "all" {
		t.Fatalf("unexpected health payload %+v", payload)
	}
}

func TestWatchesRequiresToken(t *testing.T) {
	s := newTestServer(t, "secret")
	res := s.get(t, "/api/watches", "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	var payload errorResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Code != "unauthorized" {
		t.Fatalf("unexpected error payload %+v", payload)
	}
}

func TestWatchesListsRegistry(t *testing.T) {
	s := newTestServer(t, "secret")
	if err := s.watcher.WatchPath("/src", true); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := s.watcher.FilterFile("/lib/a.js", "main"); err != nil {
		t.Fatalf("filter: %v", err)
	}

	res := s.get(t, "/api/watches", "secret")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var payload watchesResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(payload.WatchedPaths, ",") != "/lib/a.js,/src" {
		t.Fatalf("unexpected watched paths %v", payload.WatchedPaths)
	}
	if strings.Join(payload.FilteredFiles, ",") != "/lib/a.js" {
		t.Fatalf("unexpected filtered files %v", payload.FilteredFiles)
	}
}

func TestWatchesRejectsPost(t *testing.T) {
	s := newTestServer(t, "")
	res, err := http.Post(s.server.URL+"/api/watches", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.StatusCode)
	}
	if res.Header.Get("Allow") != "GET" {
		t.Fatalf("expected Allow header, got %q", res.Header.Get("Allow"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	if err := s.watcher.WatchPath("/src", true); err != nil {
		t.Fatalf("watch: %v", err)
	}
	s.notifier.fire("/src", "a.js")

	res := s.get(t, "/metrics", "")
	var body bytes.Buffer
	if _, err := body.ReadFrom(res.Body); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(body.String(), "devwatch_changes_emitted_total 1") {
		t.Fatalf("expected emitted counter, got:\n%s", body.String())
	}
}

func TestChangesHistory(t *testing.T) {
	s := newTestServer(t, "")
	if err := s.watcher.WatchPath("/src", true); err != nil {
		t.Fatalf("watch: %v", err)
	}
	s.notifier.fire("/src", "a.js")
	s.notifier.fire("/src", "b.js")

	res := s.get(t, "/api/changes", "")
	var payload []changePayload
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload) != 2 || payload[0].Trigger != "/src/a.js" || payload[1].Trigger != "/src/b.js" {
		t.Fatalf("unexpected history %+v", payload)
	}
	if payload[0].Op != "WRITE" || payload[0].Type != "changed" {
		t.Fatalf("unexpected payload %+v", payload[0])
	}
}

func TestLogsFilter(t *testing.T) {
	s := newTestServer(t, "")
	s.logger.Info("first", nil)
	s.logger.Warn("second", nil)
	s.logger.Error("third", nil)

	res := s.get(t, "/api/logs?level=warn", "")
	var entries []logging.LogEntry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[0].Message != "second" || entries[1].Message != "third" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	res = s.get(t, "/api/logs?level=loud", "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

func TestChangeStreamDeliversEvents(t *testing.T) {
	s := newTestServer(t, "secret")
	if err := s.watcher.WatchPath("/src", true); err != nil {
		t.Fatalf("watch: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/changes?token=secret"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	s.notifier.fire("/src", "lib/x.js")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload map[string]any
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if payload["type"] != "changed" || payload["trigger"] != "/src/lib/x.js" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if owners, ok := payload["owners"]; !ok || owners != nil {
		t.Fatalf("expected null owners, got %v", payload["owners"])
	}
}

func TestChangeStreamRejectsBadToken(t *testing.T) {
	s := newTestServer(t, "secret")
	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/changes?token=wrong"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %v", res)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://localhost:7717/ws/changes", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	if !isOriginAllowed(req, nil) {
		t.Fatalf("same host should be allowed")
	}
	req.Header.Set("Origin", "http://evil.example")
	if isOriginAllowed(req, nil) {
		t.Fatalf("foreign origin should be rejected")
	}
	if !isOriginAllowed(req, []string{"evil.example"}) {
		t.Fatalf("allow-listed origin should pass")
	}
}
