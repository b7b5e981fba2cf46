package web

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/refgrid/internal/audit"
)

// handleListCommands returns recent command log entries, newest first.
//
// Query parameters: table, status (ok|failed), since (RFC 3339),
// limit (default 100), offset.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := audit.Filter{
		Table:  q.Get("table"),
		Status: audit.Status(q.Get("status")),
		Limit:  parseIntParam(r, "limit", audit.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	}
	if f.Status != "" && f.Status != audit.StatusOK && f.Status != audit.StatusFailed {
		badRequest(w, r, "status must be ok or failed")
		return
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			badRequest(w, r, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = t
	}

	entries, err := s.deps.Commands.List(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": nonNil(entries),
		"count":   len(entries),
	})
}
