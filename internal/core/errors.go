package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRowNotFound is returned when a mutation targets a row ID that is not in
// the active cache entry.
var ErrRowNotFound = errors.New("row not found in cache")

// ErrCacheMiss is returned when a mutation targets a cache key that was never
// fetched. Mutations only patch rows the grid has seen.
var ErrCacheMiss = errors.New("cache entry not loaded")

// ValidationError represents a single field that failed validation.
// It is raised before encoding and blocks the save locally.
type ValidationError struct {
	Table   string
	Field   string // Field name (empty for row-level problems)
	Value   string // The offending value, if any
	Message string // Human-readable message
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// ValidationErrors collects every failing field of a row so the UI can show
// them next to their inputs.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes the individual errors to errors.As.
func (es ValidationErrors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// Err returns nil when the collection is empty.
func (es ValidationErrors) Err() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// SchemaMismatchError reports an encoded command whose field count does not
// match what the backend expects for the operation.
type SchemaMismatchError struct {
	Table      string
	RecordType string
	Want       int
	Got        int
	Field      string // Set when the count is right but a field is out of place
}

func (e *SchemaMismatchError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema mismatch: %s record %s has field %s out of order",
			e.Table, e.RecordType, e.Field)
	}
	return fmt.Sprintf("schema mismatch: %s record %s has %d fields, want %d",
		e.Table, e.RecordType, e.Got, e.Want)
}

// EncodingError reports a field value that cannot be placed on the wire,
// typically because it contains the delimiter. There is no escape mechanism.
type EncodingError struct {
	Table   string
	Field   string
	Value   string
	Message string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error: %s.%s: %s", e.Table, e.Field, e.Message)
}

// TransportError reports a failed call to the legacy gateway.
// Status is zero when no HTTP response was received.
type TransportError struct {
	Op     string // "retrieve" or "update"
	Table  string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway %s %s failed", e.Op, e.Table)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SchemaNotFoundError is returned for lookups of unregistered tables.
type SchemaNotFoundError struct {
	Table string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("table not found: %s", e.Table)
}
