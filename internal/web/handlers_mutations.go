package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleCreateRow adds a row to a loaded view and submits an A command.
func (s *Server) handleCreateRow(w http.ResponseWriter, r *http.Request) {
	_, key, err := s.viewKey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	req, err := decodeRow(w, r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	row, err := s.deps.Dispatcher.Create(withRequestMeta(r), key, req.Fields)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// handleUpdateRow changes non-key fields of a cached row and submits a C
// command.
func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	_, key, err := s.viewKey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	req, err := decodeRow(w, r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if len(req.Fields) == 0 {
		badRequest(w, r, "no fields to change")
		return
	}

	row, err := s.deps.Dispatcher.Update(withRequestMeta(r), key, chi.URLParam(r, "id"), req.Fields)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// handleDeleteRow removes a cached row and submits a D command.
func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	_, key, err := s.viewKey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.deps.Dispatcher.Delete(withRequestMeta(r), key, chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
