package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/importer"
	"github.com/JonMunkholm/refgrid/internal/logging"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// tableInfo is the JSON shape of a table schema.
type tableInfo struct {
	Name    string      `json:"name"`
	Label   string      `json:"label"`
	Group   string      `json:"group"`
	Filters []string    `json:"filters"`
	Keys    []string    `json:"keys"`
	Fields  []fieldInfo `json:"fields"`
}

type fieldInfo struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Kind     string `json:"kind"`
	Required bool   `json:"required,omitempty"`
}

func newTableInfo(ts *schema.TableSchema) tableInfo {
	info := tableInfo{
		Name:    ts.Name,
		Label:   ts.Label,
		Group:   ts.Group,
		Filters: ts.FilterParams,
		Keys:    ts.KeyFields(),
	}
	if info.Filters == nil {
		info.Filters = []string{}
	}
	for _, f := range ts.Fields() {
		info.Fields = append(info.Fields, fieldInfo{
			Name:     f.Name,
			Role:     f.Role.String(),
			Kind:     f.Kind.String(),
			Required: f.Required || f.Role == schema.RoleKey,
		})
	}
	return info
}

// handleHealth reports liveness plus cache and bulk limiter usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"tables":     s.deps.Registry.Len(),
		"dispatcher": s.deps.Dispatcher.Status(),
	})
}

// handleListTables returns every registered table, grouped then by name.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	all := s.deps.Registry.All()
	out := make([]tableInfo, len(all))
	for i, ts := range all {
		out[i] = newTableInfo(ts)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetTable returns one table schema.
func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	ts, err := s.tableSchema(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTableInfo(ts))
}

// rowsResponse is the body of a fetch.
type rowsResponse struct {
	Table   string     `json:"table"`
	Filters string     `json:"filters"`
	Count   int        `json:"count"`
	Rows    []core.Row `json:"rows"`
}

// handleFetchRows returns the cached rows of a filtered view, loading them
// from the gateway on first use. refresh=true forces a reload.
func (s *Server) handleFetchRows(w http.ResponseWriter, r *http.Request) {
	_, key, err := s.viewKey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var rows []core.Row
	if r.URL.Query().Get("refresh") == "true" {
		rows, err = s.deps.Dispatcher.Refresh(r.Context(), key)
	} else {
		rows, err = s.deps.Dispatcher.Fetch(r.Context(), key)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []core.Row{}
	}

	writeJSON(w, http.StatusOK, rowsResponse{
		Table:   key.Table,
		Filters: key.Filters,
		Count:   len(rows),
		Rows:    rows,
	})
}

// handleInvalidateRows drops the cached view so the next fetch reloads it.
// all=true drops every view of the table.
func (s *Server) handleInvalidateRows(w http.ResponseWriter, r *http.Request) {
	ts, key, err := s.viewKey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if r.URL.Query().Get("all") == "true" {
		s.deps.Dispatcher.InvalidateTable(ts.Name)
	} else {
		s.deps.Dispatcher.Invalidate(key)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportRows streams a view as CSV in schema field order.
func (s *Server) handleExportRows(w http.ResponseWriter, r *http.Request) {
	ts, key, err := s.viewKey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rows, err := s.deps.Dispatcher.Fetch(r.Context(), key)
	if err != nil {
		respondError(w, r, err)
		return
	}

	filename := fmt.Sprintf("%s_%s.csv", ts.Name, time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := importer.WriteCSV(w, ts, rows); err != nil {
		logging.FromContext(r.Context()).Error("export write failed", "table", ts.Name, "error", err)
	}
}
