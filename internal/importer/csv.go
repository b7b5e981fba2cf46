// Package importer reads spreadsheet exports into rows for reconciliation and
// writes cached rows back out in the same shape.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// MaxHeaderSearchRows is the number of leading records scanned for the
// header row. Exports often carry a title or report date above it.
var MaxHeaderSearchRows = 20

var (
	ErrEmptyFile  = errors.New("empty file: no data rows")
	ErrInvalidCSV = errors.New("invalid csv")
)

// MissingColumnsError reports key columns absent from the header row.
type MissingColumnsError struct {
	Table   string
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing key columns for %s: %s", e.Table, strings.Join(e.Columns, ", "))
}

// NewReader wraps r so that a UTF-8 or UTF-16 byte order mark is consumed and
// the content is decoded to UTF-8. Invalid UTF-8 becomes U+FFFD.
func NewReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// ReadCSV parses an uploaded CSV into rows keyed by schema field name.
//
// Headers match field names case-insensitively; unknown columns are ignored.
// The returned missing slice lists declared fields with no column, which is
// only an error when a key field is among them.
func ReadCSV(r io.Reader, s *schema.TableSchema) (rows []core.Row, missing []string, err error) {
	cr := csv.NewReader(NewReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidCSV, err)
	}
	if len(records) == 0 {
		return nil, nil, ErrEmptyFile
	}

	headerIdx, columns := findHeader(records, s)
	if headerIdx < 0 {
		return nil, nil, &MissingColumnsError{Table: s.Name, Columns: missingKeys(firstNonEmpty(records), s)}
	}

	present := make(map[string]bool, len(columns))
	for _, name := range columns {
		if name != "" {
			present[name] = true
		}
	}
	for _, name := range s.FieldOrder() {
		if !present[name] {
			missing = append(missing, name)
		}
	}

	for _, rec := range records[headerIdx+1:] {
		if isEmptyRow(rec) {
			continue
		}
		row := core.Row{Fields: make(map[string]any, len(present))}
		for i, name := range columns {
			if name == "" {
				continue
			}
			cell := ""
			if i < len(rec) {
				cell = core.CleanCell(rec[i])
			}
			row.Set(name, cell)
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, missing, ErrEmptyFile
	}
	return rows, missing, nil
}

// findHeader returns the index of the first record that names every key
// field, along with the schema field name of each column ("" for unknown).
func findHeader(records [][]string, s *schema.TableSchema) (int, []string) {
	limit := min(MaxHeaderSearchRows, len(records))
	for i := 0; i < limit; i++ {
		if isEmptyRow(records[i]) {
			continue
		}
		if len(missingKeys(records[i], s)) == 0 {
			return i, mapColumns(records[i], s)
		}
	}
	return -1, nil
}

func mapColumns(header []string, s *schema.TableSchema) []string {
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		f, ok := s.Lookup(core.CleanCell(h))
		if !ok || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		columns[i] = f.Name
	}
	return columns
}

func missingKeys(header []string, s *schema.TableSchema) []string {
	found := make(map[string]bool, len(header))
	for _, name := range mapColumns(header, s) {
		found[name] = true
	}
	var missing []string
	for _, k := range s.KeyFields() {
		if !found[k] {
			missing = append(missing, k)
		}
	}
	return missing
}

func firstNonEmpty(records [][]string) []string {
	for _, rec := range records {
		if !isEmptyRow(rec) {
			return rec
		}
	}
	return nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// WriteCSV writes a header of the schema's field names followed by rows in
// the same order. Values are rendered as plain text; nil is an empty cell.
func WriteCSV(w io.Writer, s *schema.TableSchema, rows []core.Row) error {
	cw := csv.NewWriter(w)
	order := s.FieldOrder()

	if err := cw.Write(order); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rec := make([]string, len(order))
	for _, row := range rows {
		for i, name := range order {
			v, _ := row.Get(name)
			rec[i] = core.AsString(v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %s: %w", row.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
