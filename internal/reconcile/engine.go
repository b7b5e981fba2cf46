// Package reconcile diffs rows imported from a spreadsheet against the rows
// the gateway returned for the same table.
//
// Rows are matched by composite key. Alpha fields compare as trimmed text,
// numeric fields compare as decimals within a tolerance, and every other
// field is passthrough. A passthrough field is never compared; its imported
// value is carried only when another field makes the row modified.
// Server rows that the import does not mention are left alone.
package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/schema"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// DefaultEpsilon absorbs the float noise of values that round-tripped
// through a spreadsheet.
const DefaultEpsilon = 1e-4

// Engine reconciles imported rows against server rows.
// The zero value compares numbers exactly and alpha fields case-sensitively.
type Engine struct {
	Epsilon  float64 // Numeric tolerance, inclusive
	FoldCase bool    // Compare alpha fields case-insensitively
}

// NewEngine returns an engine with the default tolerance.
func NewEngine() *Engine {
	return &Engine{Epsilon: DefaultEpsilon}
}

// Reconcile classifies every imported row as unchanged, modified or added.
// Neither input slice is modified. IDs are derived from keys, so running the
// same inputs twice gives identical output.
func (e *Engine) Reconcile(imported, server []core.Row, s *schema.TableSchema) Result {
	res := Result{
		Table:    s.Name,
		Entries:  make([]Entry, 0, len(imported)),
		imported: len(imported),
	}

	index := make(map[string]core.Row, len(server))
	for _, row := range server {
		key, err := s.CompositeKey(row)
		if err != nil {
			// A keyless server row can never match; it stays in the cache as is.
			continue
		}
		if _, dup := index[key]; dup {
			res.Warnings = append(res.Warnings, Warning{
				Reason:  ReasonDuplicateServerKey,
				Key:     displayKey(key),
				Message: "server returned more than one row for this key; the first is used",
			})
			continue
		}
		index[key] = row
	}

	cmp := e.comparer()
	seen := make(map[string]int, len(imported))

	for i, row := range imported {
		line := i + 1

		key, err := s.CompositeKey(row)
		if err != nil {
			res.Warnings = append(res.Warnings, keyWarning(line, err))
			continue
		}
		if first, dup := seen[key]; dup {
			res.Warnings = append(res.Warnings, Warning{
				Reason:  ReasonDuplicateImported,
				Line:    line,
				Key:     displayKey(key),
				Message: fmt.Sprintf("key already imported on line %d; row skipped", first),
			})
			continue
		}
		seen[key] = line

		srv, found := index[key]
		if !found {
			added := row.Clone()
			added.ID = s.RowID(key)
			res.Entries = append(res.Entries, Entry{Status: StatusAdded, Line: line, Key: displayKey(key), Row: added})
			continue
		}

		changed := cmp.diff(s, row, srv)
		merged := srv.Clone()
		if merged.ID == "" {
			merged.ID = s.RowID(key)
		}

		if len(changed) == 0 {
			res.Entries = append(res.Entries, Entry{Status: StatusUnchanged, Line: line, Key: displayKey(key), Row: merged})
			continue
		}

		for _, name := range changed {
			v, _ := row.Get(name)
			merged.Set(name, v)
		}
		for name, v := range row.Fields {
			if s.RoleOf(name) == schema.RolePassthrough {
				merged.Set(name, v)
			}
		}
		res.Entries = append(res.Entries, Entry{Status: StatusModified, Line: line, Key: displayKey(key), Row: merged, Changed: changed})
	}

	return res
}

func keyWarning(line int, err error) Warning {
	var mk *schema.MissingKeyError
	if errors.As(err, &mk) {
		return Warning{
			Reason:  ReasonMissingKey,
			Line:    line,
			Field:   mk.Field,
			Message: fmt.Sprintf("key field %s is empty; row excluded", mk.Field),
		}
	}
	return Warning{Reason: ReasonInvalidKey, Line: line, Message: err.Error()}
}

// displayKey renders a composite key for people: parts joined with " / ".
func displayKey(key string) string {
	return strings.ReplaceAll(key, schema.KeySeparator, " / ")
}

// comparer holds per-call comparison state. cases.Caser is not safe for
// concurrent use, so one is built for every Reconcile call.
type comparer struct {
	epsilon decimal.Decimal
	fold    *cases.Caser
}

func (e *Engine) comparer() comparer {
	c := comparer{epsilon: decimal.NewFromFloat(e.Epsilon).Abs()}
	if e.FoldCase {
		caser := cases.Fold()
		c.fold = &caser
	}
	return c
}

// diff lists the alpha and numeric fields whose imported value differs from
// the server value. Fields the imported row does not carry are skipped.
func (c comparer) diff(s *schema.TableSchema, imported, server core.Row) []string {
	var changed []string
	for _, f := range s.Fields() {
		if f.Role != schema.RoleAlpha && f.Role != schema.RoleNumeric {
			continue
		}
		iv, ok := imported.Get(f.Name)
		if !ok {
			continue
		}
		sv, _ := server.Get(f.Name)

		var equal bool
		if f.Role == schema.RoleNumeric {
			equal = c.numbersEqual(iv, sv)
		} else {
			equal = c.alphaEqual(s.KeyValue(f.Name, iv), s.KeyValue(f.Name, sv))
		}
		if !equal {
			changed = append(changed, f.Name)
		}
	}
	return changed
}

// alphaEqual compares already trimmed and kind-normalized text.
func (c comparer) alphaEqual(a, b string) bool {
	if c.fold != nil {
		return c.fold.String(a) == c.fold.String(b)
	}
	return a == b
}

// numbersEqual treats blank and unparseable values as zero.
func (c comparer) numbersEqual(a, b any) bool {
	da, _ := core.ParseNumber(a)
	db, _ := core.ParseNumber(b)
	return da.Sub(db).Abs().LessThanOrEqual(c.epsilon)
}
