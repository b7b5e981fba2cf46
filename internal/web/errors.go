package web

// errors.go turns handler errors into responses.
//
// The technical error is logged with the request ID; the client gets the
// coded message from core.MapError, as JSON for API callers or as an alert
// fragment for HTMX. Validation failures also list every failing field.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/dispatch"
	"github.com/JonMunkholm/refgrid/internal/importer"
	"github.com/JonMunkholm/refgrid/internal/logging"
	"github.com/JonMunkholm/refgrid/internal/web/templates"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Action  string       `json:"action,omitempty"`
	Code    string       `json:"code"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError is one failing field of a rejected row.
type FieldError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// statusFor picks the HTTP status for an error.
func statusFor(err error) int {
	var (
		verr     *core.ValidationError
		mismatch *core.SchemaMismatchError
		encErr   *core.EncodingError
		notFound *core.SchemaNotFoundError
		trErr    *core.TransportError
		missing  *importer.MissingColumnsError
	)

	switch {
	case errors.As(err, &verr), errors.As(err, &mismatch), errors.As(err, &encErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &notFound), errors.Is(err, core.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrCacheMiss), errors.Is(err, dispatch.ErrFetchSuperseded):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrTooManyBulkSubmits):
		return http.StatusTooManyRequests
	case errors.As(err, &missing), errors.Is(err, importer.ErrEmptyFile), errors.Is(err, importer.ErrInvalidCSV):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &trErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the user-facing response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorStatus(w, r, err, statusFor(err))
}

func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", args...)
	} else {
		logger.Info("request rejected", args...)
	}

	fields := fieldErrors(err)

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		tf := make([]templates.FieldError, len(fields))
		for i, f := range fields {
			tf[i] = templates.FieldError{Field: f.Field, Message: f.Message}
		}
		templates.ValidationAlert(msg.Message, msg.Action, msg.Code, tf).Render(r.Context(), w)
		return
	}

	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Fields:  fields,
	})
}

// badRequest reports a malformed request that never reached the dispatcher.
func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	logging.FromContext(r.Context()).Info("bad request", "path", r.URL.Path, "error", message)

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		templates.ErrorAlert(message, "", "REQ001").Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Message: message, Code: "REQ001"})
}

func fieldErrors(err error) []FieldError {
	var errs core.ValidationErrors
	if !errors.As(err, &errs) {
		var one *core.ValidationError
		if !errors.As(err, &one) {
			return nil
		}
		errs = core.ValidationErrors{one}
	}

	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		out = append(out, FieldError{Field: e.Field, Value: e.Value, Message: e.Message})
	}
	return out
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
