package web

import (
	"net/http"

	"github.com/JonMunkholm/refgrid/internal/dispatch"
	"github.com/JonMunkholm/refgrid/internal/logging"
	"github.com/JonMunkholm/refgrid/internal/reconcile"
)

// reconcileResponse is the preview of an import against the server rows.
type reconcileResponse struct {
	Table          string              `json:"table"`
	Filters        string              `json:"filters"`
	Summary        reconcile.Summary   `json:"summary"`
	MissingColumns []string            `json:"missingColumns,omitempty"`
	Entries        []reconcile.Entry   `json:"entries"`
	Warnings       []reconcile.Warning `json:"warnings"`
}

// bulkResponse reports what a bulk apply sent.
type bulkResponse struct {
	Table          string              `json:"table"`
	Summary        reconcile.Summary   `json:"summary"`
	Report         dispatch.BulkReport `json:"report"`
	MissingColumns []string            `json:"missingColumns,omitempty"`
	Warnings       []reconcile.Warning `json:"warnings"`
}

// handleReconcile parses an uploaded CSV and diffs it against the view's
// server rows. Nothing is submitted.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ts, key, err := s.viewKey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	imported, missing, err := s.readUpload(w, r, ts)
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := s.deps.Dispatcher.Reconcile(r.Context(), key, imported)
	if err != nil {
		respondError(w, r, err)
		return
	}

	sum := res.Summary()
	logging.WithFields(r.Context(), "table", key.Table, "filters", key.Filters).Info("import reconciled",
		"imported", sum.Imported,
		"added", sum.Added,
		"modified", sum.Modified,
		"warnings", sum.Warnings,
	)

	writeJSON(w, http.StatusOK, reconcileResponse{
		Table:          res.Table,
		Filters:        key.Filters,
		Summary:        sum,
		MissingColumns: missing,
		Entries:        nonNil(res.Entries),
		Warnings:       nonNil(res.Warnings),
	})
}

// handleBulk reconciles an uploaded CSV and submits the added and modified
// rows as one batch.
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	ts, key, err := s.viewKey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	imported, missing, err := s.readUpload(w, r, ts)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := withRequestMeta(r)
	res, err := s.deps.Dispatcher.Reconcile(ctx, key, imported)
	if err != nil {
		respondError(w, r, err)
		return
	}

	report, err := s.deps.Dispatcher.ApplyBulk(ctx, key, res)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bulkResponse{
		Table:          res.Table,
		Summary:        res.Summary(),
		Report:         report,
		MissingColumns: missing,
		Warnings:       nonNil(res.Warnings),
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
