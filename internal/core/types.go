package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row is a single table row: field name to scalar value, plus the synthetic
// client-side identifier.
type Row struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// NewRow creates a row with the given ID and a copy of fields.
func NewRow(id string, fields map[string]any) Row {
	r := Row{ID: id, Fields: make(map[string]any, len(fields))}
	maps.Copy(r.Fields, fields)
	return r
}

// Clone returns a deep copy of the row's field map.
// Values are scalars, so copying the map is sufficient.
func (r Row) Clone() Row {
	return NewRow(r.ID, r.Fields)
}

// Get returns the value of a field and whether the field is present.
func (r Row) Get(name string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// Set assigns a field value, allocating the map if needed.
func (r *Row) Set(name string, value any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[name] = value
}

// Has reports whether the row carries the field at all (nil values count).
func (r Row) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// CloneRows copies a slice of rows so the result can be mutated freely.
func CloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// IsBlank reports whether a value is nil or a whitespace-only string.
func IsBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case json.Number:
		return strings.TrimSpace(string(x)) == ""
	case time.Time:
		return x.IsZero()
	default:
		return false
	}
}

// AsString renders a scalar as text. Nil renders as the empty string.
// Numbers use the shortest exact representation; times render as YYYY-MM-DD.
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.Format(time.DateOnly)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// RecordType is the single-letter operation code prefixed to every command.
type RecordType string

const (
	RecordAdd    RecordType = "A"
	RecordChange RecordType = "C"
	RecordDelete RecordType = "D"
)

// Valid reports whether rt is one of A, C or D.
func (rt RecordType) Valid() bool {
	switch rt {
	case RecordAdd, RecordChange, RecordDelete:
		return true
	}
	return false
}
