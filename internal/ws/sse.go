package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const heartbeatPeriod = 30 * time.Second

// SSEHandler streams session states as server-sent events, for clients that
// cannot hold a websocket.
type SSEHandler struct {
	logger         *zap.SugaredLogger
	allowedOrigins []string

	done      chan struct{}
	closeOnce sync.Once
}

func NewSSEHandler(allowedOrigins []string, logger *zap.SugaredLogger) *SSEHandler {
	return &SSEHandler{
		logger:         logger,
		allowedOrigins: allowedOrigins,
		done:           make(chan struct{}),
	}
}

// Close ends every open stream so server shutdown does not wait on them.
func (h *SSEHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *SSEHandler) ServeSession(w http.ResponseWriter, r *http.Request, topic string, source Source) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if origin := r.Header.Get("Origin"); origin != "" && originAllowed(h.allowedOrigins, origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	ctx := r.Context()
	updates, cancel := source.Subscribe()
	defer cancel()

	h.logger.Debugw("SSE connection established", "topic", topic)
	h.sendEvent(w, "snapshot", topic, source.Snapshot())

	heartbeat := time.NewTicker(heartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected", "topic", topic)
			return

		case <-h.done:
			return

		case <-heartbeat.C:
			h.sendEvent(w, "heartbeat", "ping", map[string]any{
				"timestamp": time.Now().Unix(),
			})

		case st, ok := <-updates:
			if !ok {
				return
			}
			h.sendEvent(w, "update", topic, st)
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType, id string, data any) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Errorw("Failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "id: %s\n", id)
	fmt.Fprintf(w, "data: %s\n\n", dataBytes)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
