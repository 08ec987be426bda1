package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/adalundhe/casehub/core/events"
)

// handleWatchAll streams every workspace change event over SSE. Clients
// re-pull the case listing on any event.
func (s *Server) handleWatchAll(w http.ResponseWriter, r *http.Request) {
	s.streamTopic(w, r, events.TopicAll)
}

// handleWatchCase streams change events for a single case.
func (s *Server) handleWatchCase(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "case key required")
		return
	}
	s.streamTopic(w, r, key)
}

func (s *Server) streamTopic(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.broker.Subscribe(topic)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var heartbeat <-chan time.Time
	if s.heartbeatInterval > 0 {
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	fmt.Fprintf(w, ": stream online %s\n\n", time.Now().UTC().Format(time.RFC3339))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSEEvent(w, "change", ev); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat:
			if err := writeSSEEvent(w, "heartbeat", map[string]string{
				"at": time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
