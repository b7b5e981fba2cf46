// Package tables registers the built-in table schemas with the schema registry.
// Import this package for its side effect to make the tables available.
package tables

import (
	"bytes"
	_ "embed"

	"github.com/JonMunkholm/refgrid/internal/schema"
)

//go:embed tables.yaml
var builtin []byte

func init() {
	if _, err := schema.Default().LoadYAML(bytes.NewReader(builtin)); err != nil {
		panic(err)
	}

	registerDemographics()
	registerHoldings()
	registerTransactions()
}
