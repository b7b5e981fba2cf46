package web

import (
	"net/http"
	"strings"

	"github.com/JonMunkholm/refgrid/internal/core"
)

// handleEncodePreview validates and encodes a row without submitting it,
// so users can see the exact command the gateway would receive.
func (s *Server) handleEncodePreview(w http.ResponseWriter, r *http.Request) {
	ts, err := s.tableSchema(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	req, err := decodeRow(w, r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	rt := core.RecordType(strings.ToUpper(strings.TrimSpace(req.RecordType)))
	if rt == "" {
		rt = core.RecordAdd
	}
	if !rt.Valid() {
		badRequest(w, r, "recordType must be A, C or D")
		return
	}

	row := core.NewRow("", req.Fields)
	st := s.deps.Registry.StrategyFor(ts.Name)
	if rt == core.RecordAdd {
		row = st.Factory.NewRow(ts, req.Fields)
	}
	if err := st.Validator.Validate(ts, row, rt); err != nil {
		respondError(w, r, err)
		return
	}

	cmd, err := s.deps.Encoder.Command(row, rt, ts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}
