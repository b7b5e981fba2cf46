package tables

import (
	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// The legacy store keeps 2-letter state codes; the grid lets users type
// either form.
func registerDemographics() {
	schema.RegisterStrategy("DEMOGRAPHICS", schema.Strategy{
		Validator: demographicsValidator{},
		Encoder:   demographicsEncoder{},
	})
}

type demographicsValidator struct{}

func (demographicsValidator) Validate(s *schema.TableSchema, row core.Row, rt core.RecordType) error {
	err := schema.DefaultValidator{}.Validate(s, row, rt)
	if rt == core.RecordDelete {
		return err
	}

	var errs core.ValidationErrors
	if verrs, ok := err.(core.ValidationErrors); ok {
		errs = verrs
	} else if err != nil {
		return err
	}

	if v, _ := row.Get("STATE"); !core.IsBlank(v) {
		if _, ok := NormalizeUsState(core.AsString(v)); !ok {
			errs = append(errs, &core.ValidationError{
				Table:   s.Name,
				Field:   "STATE",
				Value:   core.AsString(v),
				Message: "unknown US state",
			})
		}
	}
	return errs.Err()
}

type demographicsEncoder struct{}

func (demographicsEncoder) Slots(s *schema.TableSchema, row core.Row, rt core.RecordType) ([]schema.Slot, error) {
	slots, err := schema.PositionalEncoder{}.Slots(s, row, rt)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		if slots[i].Field.Name == "STATE" && !core.IsBlank(slots[i].Value) {
			code, _ := NormalizeUsState(core.AsString(slots[i].Value))
			slots[i].Value = code
		}
	}
	return slots, nil
}
