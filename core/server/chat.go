package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/adalundhe/casehub/core/chat"
	"github.com/adalundhe/casehub/core/providers"
)

// handleChat runs one assistant session, streaming chat events as SSE data
// frames. When no provider is available it fails fast with 503 before any
// stream bytes are written.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Probe availability before committing to a stream response.
	if _, err := s.selector.Select(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "no chat provider available")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Accel-Buffering", "no")

	emit := func(ev chat.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.engine.Run(r.Context(), &req, emit); err != nil {
		if errors.Is(err, providers.ErrNoProvider) {
			// Selection was invalidated between the probe and the run.
			emit(chat.Event{Type: chat.EventError, Text: "no chat provider available"})
		}
		return
	}
}

// handleChatStatus reports which provider would serve the next session.
func (s *Server) handleChatStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.selector.Status(r.Context()))
}
