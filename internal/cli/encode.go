package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/refgrid/internal/core"
)

// NewEncodeCommand creates the encode command.
func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encode <table> <A|C|D> <row.json>",
		Short: "Print the command string for a row",
		Long: `Validate a row given as a JSON object of field values and print the exact
command the gateway would receive. Use - to read the row from stdin.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(rootOpts, args[0], args[1], args[2], cmd)
		},
	}
}

func runEncode(root *RootOptions, table, recordType, path string, cmd *cobra.Command) error {
	s, err := root.registry.Get(strings.ToUpper(table))
	if err != nil {
		return err
	}

	rt := core.RecordType(strings.ToUpper(recordType))
	if !rt.Valid() {
		return fmt.Errorf("record type must be A, C or D, got %q", recordType)
	}

	fields, err := readFields(path, cmd.InOrStdin())
	if err != nil {
		return err
	}

	st := root.registry.StrategyFor(s.Name)
	row := core.NewRow("", fields)
	if rt == core.RecordAdd {
		row = st.Factory.NewRow(s, fields)
	}
	if err := st.Validator.Validate(s, row, rt); err != nil {
		return err
	}

	c, err := root.encoder().Command(row, rt, s)
	if err != nil {
		return err
	}

	p := root.printer(cmd.OutOrStdout())
	if p.isJSON() {
		return p.JSON(c)
	}
	p.Linef("%s", c.Encoded)
	return nil
}

func readFields(path string, stdin io.Reader) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%s: row must be a JSON object: %w", path, err)
	}
	return fields, nil
}
