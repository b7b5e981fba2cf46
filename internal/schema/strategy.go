package schema

import (
	"github.com/JonMunkholm/refgrid/internal/core"
)

// Validator checks a row before it is encoded. It returns core.ValidationErrors
// (or nil) so every offending field can be shown next to its input.
type Validator interface {
	Validate(s *TableSchema, row core.Row, rt core.RecordType) error
}

// DefaultRowFactory builds the initial row for a create from the values the
// user supplied.
type DefaultRowFactory interface {
	NewRow(s *TableSchema, seed map[string]any) core.Row
}

// Slot is one positional value of an encoded command.
type Slot struct {
	Field Field
	Value any
}

// Encoder decides which value goes into which command position. Serializing
// each slot is the encode package's job.
type Encoder interface {
	Slots(s *TableSchema, row core.Row, rt core.RecordType) ([]Slot, error)
}

// Strategy bundles the per-table behaviors selected by table name.
// Nil members fall back to the defaults.
type Strategy struct {
	Validator Validator
	Factory   DefaultRowFactory
	Encoder   Encoder
}

func (st Strategy) withDefaults() Strategy {
	if st.Validator == nil {
		st.Validator = DefaultValidator{}
	}
	if st.Factory == nil {
		st.Factory = DefaultFactory{}
	}
	if st.Encoder == nil {
		st.Encoder = PositionalEncoder{}
	}
	return st
}

// DefaultValidator enforces the generic field contract: key and required
// fields are non-blank, numbers and dates parse. Deletes only need keys.
type DefaultValidator struct{}

func (DefaultValidator) Validate(s *TableSchema, row core.Row, rt core.RecordType) error {
	var errs core.ValidationErrors

	for _, f := range s.fields {
		v, _ := row.Get(f.Name)
		blank := core.IsBlank(v)

		if rt == core.RecordDelete {
			if f.Role == RoleKey && blank {
				errs = append(errs, &core.ValidationError{Table: s.Name, Field: f.Name, Message: "required field is empty"})
			}
			continue
		}

		if blank {
			if f.Role == RoleKey || f.Required {
				errs = append(errs, &core.ValidationError{Table: s.Name, Field: f.Name, Message: "required field is empty"})
			}
			continue
		}

		switch f.Kind {
		case KindNumber:
			if _, ok := core.ParseNumber(v); !ok {
				errs = append(errs, &core.ValidationError{Table: s.Name, Field: f.Name, Value: core.AsString(v), Message: "invalid number"})
			}
		case KindDate:
			if _, ok := core.ParseDate(v); !ok {
				errs = append(errs, &core.ValidationError{Table: s.Name, Field: f.Name, Value: core.AsString(v), Message: "invalid date"})
			}
		case KindMonth:
			if _, ok := core.ParseMonth(v); !ok {
				errs = append(errs, &core.ValidationError{Table: s.Name, Field: f.Name, Value: core.AsString(v), Message: "invalid date (month)"})
			}
		}
	}

	return errs.Err()
}

// DefaultFactory copies the seed and fills every undeclared position with nil.
// Seed fields the table does not declare are kept for display.
type DefaultFactory struct{}

func (DefaultFactory) NewRow(s *TableSchema, seed map[string]any) core.Row {
	row := core.NewRow("", seed)
	for _, name := range s.order {
		if !row.Has(name) {
			row.Set(name, nil)
		}
	}
	return row
}

// PositionalEncoder lays fields out in schema order; deletes carry only the
// key fields.
type PositionalEncoder struct{}

func (PositionalEncoder) Slots(s *TableSchema, row core.Row, rt core.RecordType) ([]Slot, error) {
	var slots []Slot
	for _, f := range s.fields {
		if rt == core.RecordDelete && f.Role != RoleKey {
			continue
		}
		v, _ := row.Get(f.Name)
		slots = append(slots, Slot{Field: f, Value: v})
	}
	return slots, nil
}
