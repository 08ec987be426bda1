package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adalundhe/casehub/core/archive"
)

// handleSyncPreview checks every active case against the tracker without
// modifying anything.
func (s *Server) handleSyncPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.syncer.Preview(r.Context())
	if err != nil {
		s.logger.Error("sync preview failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sync preview failed")
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleSyncCommit archives completed cases, optionally restricted to a
// caller-approved subset. A concurrent commit yields 409 so the caller can
// retry once the running pass finishes.
func (s *Server) handleSyncCommit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keys []string `json:"keys"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := s.syncer.Commit(r.Context(), body.Keys)
	if err != nil {
		if errors.Is(err, archive.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, "sync already in progress")
			return
		}
		s.logger.Error("sync commit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sync commit failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
