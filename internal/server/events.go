package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"releasedesk/internal/events"
)

const (
	sseBuffer    = 64
	sseHeartbeat = 15 * time.Second
)

// registerEvents serves the change stream as server-sent events. A client
// that falls behind by more than sseBuffer changes gets a resync event
// instead of the dropped ones.
func registerEvents(r chi.Router, basePath string, broker *events.Broker, logger *zap.Logger) {
	r.Get(path.Join(basePath, "events"), func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := make(chan events.Change, sseBuffer)
		overflow := make(chan struct{}, 1)
		cancel := broker.Subscribe(r.URL.Query().Get("collection"), func(c events.Change) {
			select {
			case ch <- c:
			default:
				select {
				case overflow <- struct{}{}:
				default:
				}
			}
		})
		defer cancel()

		writeSSE(w, "connected", map[string]string{"type": "connected"})
		flusher.Flush()

		ctx := r.Context()
		heartbeat := time.NewTicker(sseHeartbeat)
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(w, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
			case c := <-ch:
				writeSSE(w, c.Type(), c)
			case <-overflow:
				logger.Warn("event stream client lagging, sending resync")
				writeSSE(w, "resync", map[string]string{"type": "resync"})
			}
			flusher.Flush()
		}
	})
}

func writeSSE(w io.Writer, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
