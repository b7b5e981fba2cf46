package web

// handlers_common.go holds request parsing shared by the handlers.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/importer"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// maxJSONBody caps single-row request bodies.
const maxJSONBody = 1 << 20

// rowRequest is the body of create, update and encode-preview calls.
type rowRequest struct {
	RecordType string         `json:"recordType,omitempty"`
	Fields     map[string]any `json:"fields"`
}

// parseIntParam parses a non-negative integer query parameter with a default.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

// tableSchema resolves the {table} URL parameter. Unknown tables yield
// *core.SchemaNotFoundError.
func (s *Server) tableSchema(r *http.Request) (*schema.TableSchema, error) {
	return s.deps.Registry.Get(chi.URLParam(r, "table"))
}

// viewKey resolves the table and the cache key for its filtered view.
func (s *Server) viewKey(r *http.Request) (*schema.TableSchema, schema.CacheKey, error) {
	ts, err := s.tableSchema(r)
	if err != nil {
		return nil, schema.CacheKey{}, err
	}
	key, err := ts.CacheKeyFromQuery(r.URL.Query())
	if err != nil {
		return nil, schema.CacheKey{}, err
	}
	return ts, key, nil
}

// decodeRow reads a rowRequest. Numbers are kept as json.Number so they are
// compared and serialized without float rounding.
func decodeRow(w http.ResponseWriter, r *http.Request) (rowRequest, error) {
	var req rowRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return rowRequest{}, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Fields == nil {
		return rowRequest{}, errors.New("invalid request body: fields are required")
	}
	return req, nil
}

// readUpload parses an uploaded CSV from a multipart "file" field or from a
// raw text/csv body.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, ts *schema.TableSchema) ([]core.Row, []string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)

	var src io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(s.cfg.MaxUploadSize); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", importer.ErrInvalidCSV, err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, nil, fmt.Errorf("%w: missing file field: %w", importer.ErrInvalidCSV, err)
		}
		defer file.Close()
		src = file
	}

	return importer.ReadCSV(src, ts)
}
