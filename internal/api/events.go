package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tira-io/tirad/internal/engine"
)

// handleStreamEvents streams submission and kill events as SSE. Reviewers
// may follow any user with ?user= or everyone without it; everyone else
// follows their own events.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	topic := p.User
	if p.Reviewer() {
		topic = r.URL.Query().Get("user")
		if topic == "" {
			topic = engine.AllUsers
		}
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.engine.Broker().Subscribe(topic)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Broker shut down; send explicit done event before closing.
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode event", "error", err)
				continue
			}
			if err := writeSSEEvent(w, ev.Kind, string(data)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
