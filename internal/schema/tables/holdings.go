package tables

import (
	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// New holdings start flat: quantities and values default to zero rather than
// blank so the legacy store does not reject the add.
func registerHoldings() {
	schema.RegisterStrategy("HOLDINGS", schema.Strategy{
		Factory: holdingsFactory{},
	})
}

type holdingsFactory struct{}

func (holdingsFactory) NewRow(s *schema.TableSchema, seed map[string]any) core.Row {
	row := schema.DefaultFactory{}.NewRow(s, seed)
	for _, name := range s.NumericFields() {
		if v, _ := row.Get(name); core.IsBlank(v) {
			row.Set(name, 0)
		}
	}
	return row
}
