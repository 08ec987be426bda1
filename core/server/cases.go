package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/adalundhe/casehub/core/search"
	"github.com/adalundhe/casehub/core/workspace"
)

// handleListCases returns the active cases, newest first.
func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.store.List()
	if err != nil {
		s.logger.Error("case listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list cases")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// handleGetMeta returns a case's metadata.
func (s *Server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	meta, err := s.store.ReadMeta(key)
	if err != nil {
		if errors.Is(err, workspace.ErrCaseNotFound) {
			writeError(w, http.StatusNotFound, "case not found")
			return
		}
		s.logger.Error("meta read failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "could not read metadata")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handlePatchMeta applies a partial metadata update. Absent fields keep
// their current value; an invalid status is rejected without writing.
func (s *Server) handlePatchMeta(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var patch struct {
		Status   *string `json:"status"`
		Assignee *string `json:"assignee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	meta, err := s.store.ReadMeta(key)
	if err != nil {
		if errors.Is(err, workspace.ErrCaseNotFound) {
			writeError(w, http.StatusNotFound, "case not found")
			return
		}
		s.logger.Error("meta read failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "could not read metadata")
		return
	}

	if patch.Status != nil {
		status, err := workspace.ParseStatus(*patch.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		meta.Status = status
	}
	if patch.Assignee != nil {
		meta.Assignee = *patch.Assignee
	}

	if err := s.store.WriteMeta(key, meta); err != nil {
		s.logger.Error("meta write failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "could not write metadata")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleSearch runs a full-text query over the workspace.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}

	limit := search.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	results, err := s.index.Search(query, limit)
	if err != nil {
		s.logger.Error("search failed", "query", query, "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}
