package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/encode"
	"github.com/JonMunkholm/refgrid/internal/importer"
	"github.com/JonMunkholm/refgrid/internal/reconcile"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	Epsilon  float64
	FoldCase bool
	Payload  bool // Print the bulk payload instead of the entries
}

type reconcileOutput struct {
	Table    string              `json:"table"`
	Summary  reconcile.Summary   `json:"summary"`
	Entries  []reconcile.Entry   `json:"entries,omitempty"`
	Warnings []reconcile.Warning `json:"warnings,omitempty"`
	Payload  string              `json:"payload,omitempty"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile <table> <server.csv> <import.csv>",
		Short: "Diff an import file against a server export",
		Long: `Reconcile an import CSV against a CSV export of the server rows and print
which imported rows are unchanged, modified or added.

With --payload the added and modified rows are encoded and printed as the
bulk payload the server would submit.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, opts, args[0], args[1], args[2], cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.Epsilon, "epsilon", reconcile.DefaultEpsilon, "numeric comparison tolerance")
	cmd.Flags().BoolVar(&opts.FoldCase, "fold-case", false, "compare alpha fields case-insensitively")
	cmd.Flags().BoolVar(&opts.Payload, "payload", false, "print the bulk payload for added and modified rows")

	return cmd
}

func runReconcile(root *RootOptions, opts *ReconcileOptions, table, serverPath, importPath string, cmd *cobra.Command) error {
	if opts.Epsilon < 0 {
		return fmt.Errorf("epsilon must be >= 0")
	}
	s, err := root.registry.Get(strings.ToUpper(table))
	if err != nil {
		return err
	}

	server, err := readRows(serverPath, s)
	if err != nil {
		return err
	}
	imported, err := readRows(importPath, s)
	if err != nil {
		return err
	}

	engine := &reconcile.Engine{Epsilon: opts.Epsilon, FoldCase: opts.FoldCase}
	res := engine.Reconcile(imported, server, s)

	out := reconcileOutput{
		Table:    res.Table,
		Summary:  res.Summary(),
		Warnings: res.Warnings,
	}
	if opts.Payload {
		out.Payload, err = bulkPayload(root, s, res)
		if err != nil {
			return err
		}
	} else {
		out.Entries = res.Entries
	}

	p := root.printer(cmd.OutOrStdout())
	if p.isJSON() {
		return p.JSON(out)
	}

	if opts.Payload {
		p.Linef("%s", out.Payload)
		return nil
	}

	sum := out.Summary
	p.Linef("%s: %d imported, %d unchanged, %d modified, %d added, %d warnings",
		out.Table, sum.Imported, sum.Unchanged, sum.Modified, sum.Added, sum.Warnings)

	rows := make([][]string, 0, len(out.Entries))
	for _, e := range out.Entries {
		rows = append(rows, []string{fmt.Sprint(e.Line), string(e.Status), e.Key, strings.Join(e.Changed, ",")})
	}
	if err := p.Table([]string{"LINE", "STATUS", "KEY", "CHANGED"}, rows); err != nil {
		return err
	}

	for _, w := range out.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: line %d: %s\n", w.Line, w.Message)
	}
	return nil
}

// readRows loads a CSV file. Missing non-key columns are tolerated; the
// engine only compares fields a row carries.
func readRows(path string, s *schema.TableSchema) ([]core.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, _, err := importer.ReadCSV(f, s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

func bulkPayload(root *RootOptions, s *schema.TableSchema, res reconcile.Result) (string, error) {
	st := root.registry.StrategyFor(s.Name)
	enc := root.encoder()

	var cmds []encode.Command
	for _, e := range res.Pending() {
		rt := core.RecordChange
		if e.Status == reconcile.StatusAdded {
			rt = core.RecordAdd
		}
		if err := st.Validator.Validate(s, e.Row, rt); err != nil {
			return "", fmt.Errorf("line %d: %w", e.Line, err)
		}
		c, err := enc.Command(e.Row, rt, s)
		if err != nil {
			return "", fmt.Errorf("line %d: %w", e.Line, err)
		}
		cmds = append(cmds, c)
	}
	return encode.JoinBatch(cmds), nil
}
