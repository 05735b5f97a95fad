// ABOUTME: Server-sent event stream of run lifecycle events.
// ABOUTME: Optionally filtered to one session; heartbeats keep idle proxies from closing the stream.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const sseHeartbeatInterval = 15 * time.Second

// handleEvents streams every run's status changes and stage attempts. A
// ?session= query narrows the stream to one session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Streams outlive the server's WriteTimeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn().Err(err).Str("action", "event_stream").Msg("could not clear write deadline")
	}

	events := s.cfg.Supervisor.Events()
	ch := events.Subscribe()
	defer events.Unsubscribe(ch)
	ctx := r.Context()

	_, _ = fmt.Fprint(w, ":ok\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			if session != "" && event.SessionID != session {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
			flusher.Flush()

		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ":heartbeat\n\n")
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}
