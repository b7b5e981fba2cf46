package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type tableSummary struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Group   string   `json:"group"`
	Keys    []string `json:"keys"`
	Fields  []string `json:"fields"`
	Filters []string `json:"filters"`
}

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List registered tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(rootOpts, cmd)
		},
	}
}

func runTables(opts *RootOptions, cmd *cobra.Command) error {
	p := opts.printer(cmd.OutOrStdout())

	all := opts.registry.All()
	tables := make([]tableSummary, 0, len(all))
	for _, s := range all {
		tables = append(tables, tableSummary{
			Name:    s.Name,
			Label:   s.Label,
			Group:   s.Group,
			Keys:    s.KeyFields(),
			Fields:  s.FieldOrder(),
			Filters: s.FilterParams,
		})
	}

	if p.isJSON() {
		return p.JSON(tables)
	}

	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		rows = append(rows, []string{
			t.Name,
			t.Group,
			strings.Join(t.Keys, "+"),
			strconv.Itoa(len(t.Fields)),
			strings.Join(t.Filters, ","),
		})
	}
	return p.Table([]string{"TABLE", "GROUP", "KEY", "FIELDS", "FILTERS"}, rows)
}
