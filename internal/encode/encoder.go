// Package encode turns rows into the positional command strings the legacy
// gateway's update operation accepts:
//
//	RECORDTYPE<d>field1<d>field2<d>...<d>fieldN
//
// Add and change commands carry every field in schema order; delete commands
// carry only the key fields. There is no escaping, so a value containing the
// delimiter is an error rather than a silently corrupted record.
package encode

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// DefaultDelimiter is used when an Encoder has no delimiter configured.
const DefaultDelimiter = '|'

// BatchSeparator joins the commands of a bulk payload.
const BatchSeparator = ",END_REC"

// StrategySource selects the per-table strategy. *schema.Registry satisfies it.
type StrategySource interface {
	StrategyFor(table string) schema.Strategy
}

// Command is one encoded mutation, the unit sent to the update endpoint.
type Command struct {
	RecordType core.RecordType `json:"recordType"`
	Table      string          `json:"table"`
	Encoded    string          `json:"encoded"`
	RowID      string          `json:"rowId,omitempty"` // Client-side only; never on the wire
}

// Encoder renders rows as commands.
type Encoder struct {
	Delimiter  rune
	Strategies StrategySource // Defaults to schema.Default()
}

// New returns an encoder for the given delimiter and strategy source.
func New(delim rune, strategies StrategySource) *Encoder {
	return &Encoder{Delimiter: delim, Strategies: strategies}
}

// ValidateDelimiter rejects delimiters that would collide with the record
// type marker, the sentinels, the batch separator or line handling.
func ValidateDelimiter(r rune) error {
	switch {
	case r == 0 || r == unicode.ReplacementChar:
		return fmt.Errorf("delimiter is not set")
	case unicode.IsLetter(r) || unicode.IsDigit(r):
		return fmt.Errorf("delimiter %q must not be a letter or digit", r)
	case unicode.IsSpace(r) || unicode.IsControl(r):
		return fmt.Errorf("delimiter %q must be printable", r)
	case strings.ContainsRune(BatchSeparator, r):
		return fmt.Errorf("delimiter %q collides with the batch separator", r)
	}
	return nil
}

func (e *Encoder) delim() rune {
	if e.Delimiter == 0 {
		return DefaultDelimiter
	}
	return e.Delimiter
}

func (e *Encoder) strategies() StrategySource {
	if e.Strategies == nil {
		return schema.Default()
	}
	return e.Strategies
}

// Encode renders row as a single-line command for record type rt.
//
// Errors:
//   - *core.SchemaMismatchError when the table encoder yields the wrong number
//     of fields or a field out of schema order
//   - *core.EncodingError when a value contains the delimiter or the batch
//     separator, or cannot be rendered in its field kind
func (e *Encoder) Encode(row core.Row, rt core.RecordType, s *schema.TableSchema) (string, error) {
	if !rt.Valid() {
		return "", fmt.Errorf("encode %s: invalid record type %q", s.Name, rt)
	}

	slots, err := e.strategies().StrategyFor(s.Name).Encoder.Slots(s, row, rt)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", s.Name, err)
	}

	want := s.FieldOrder()
	if rt == core.RecordDelete {
		want = s.KeyFields()
	}
	if len(slots) != len(want) {
		return "", &core.SchemaMismatchError{Table: s.Name, RecordType: string(rt), Want: len(want), Got: len(slots)}
	}

	delim := e.delim()
	tokens := make([]string, 0, len(slots)+1)
	tokens = append(tokens, string(rt))

	for i, slot := range slots {
		if slot.Field.Name != want[i] {
			return "", &core.SchemaMismatchError{
				Table: s.Name, RecordType: string(rt),
				Want: len(want), Got: len(slots), Field: slot.Field.Name,
			}
		}

		ser, ok := serializers[slot.Field.Kind]
		if !ok {
			ser = serializeString
		}
		tok, problem := ser(slot.Value)
		if problem != "" {
			return "", &core.EncodingError{Table: s.Name, Field: slot.Field.Name, Value: core.AsString(slot.Value), Message: problem}
		}
		if strings.ContainsRune(tok, delim) {
			return "", &core.EncodingError{
				Table: s.Name, Field: slot.Field.Name, Value: tok,
				Message: fmt.Sprintf("value contains the delimiter %q", delim),
			}
		}
		if strings.Contains(tok, BatchSeparator) {
			return "", &core.EncodingError{
				Table: s.Name, Field: slot.Field.Name, Value: tok,
				Message: fmt.Sprintf("value contains the batch separator %q", BatchSeparator),
			}
		}
		tokens = append(tokens, tok)
	}

	out := strings.Join(tokens, string(delim))
	if got := strings.Count(out, string(delim)); got != len(want) {
		return "", &core.SchemaMismatchError{Table: s.Name, RecordType: string(rt), Want: len(want), Got: got}
	}
	return out, nil
}

// Command encodes row and wraps the result with its metadata.
func (e *Encoder) Command(row core.Row, rt core.RecordType, s *schema.TableSchema) (Command, error) {
	encoded, err := e.Encode(row, rt, s)
	if err != nil {
		return Command{}, err
	}
	return Command{RecordType: rt, Table: s.Name, Encoded: encoded, RowID: row.ID}, nil
}

// JoinBatch concatenates commands into one bulk payload.
func JoinBatch(cmds []Command) string {
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		parts[i] = c.Encoded
	}
	return strings.Join(parts, BatchSeparator)
}
