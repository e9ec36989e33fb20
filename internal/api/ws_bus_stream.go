package api

import (
	"net/http"
	"strings"

	"devwatch/internal/event"
	"devwatch/internal/logging"
)

type wsBusStreamConfig[T any] struct {
	Logger            *logging.Logger
	AuthToken         string
	AllowedOrigins    []string
	Bus               *event.Bus[T]
	UnavailableReason string
	BuildPayload      func(T) (any, bool)
}

// serveWSBusStream subscribes to a bus and streams payloads to a websocket connection.
func serveWSBusStream[T any](w http.ResponseWriter, r *http.Request, config wsBusStreamConfig[T]) {
	if !requireWSToken(w, r, config.AuthToken, config.Logger) {
		return
	}

	if config.Bus == nil {
		writeWSError(w, r, config.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: unavailableReason(config.UnavailableReason),
		})
		return
	}

	output, cancel := config.Bus.Subscribe()
	if output == nil {
		writeWSError(w, r, config.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: unavailableReason(config.UnavailableReason),
		})
		return
	}
	defer cancel()

	conn, err := upgradeWebSocket(w, r, config.AllowedOrigins)
	if err != nil {
		logWSError(config.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	buildPayload := config.BuildPayload
	if buildPayload == nil {
		buildPayload = func(value T) (any, bool) {
			return value, true
		}
	}
	streamToConn(conn, output, buildPayload)
}

func unavailableReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "event stream unavailable"
	}
	return reason
}
