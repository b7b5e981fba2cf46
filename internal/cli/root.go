// Package cli implements refgridctl, the offline operator tool. It works on
// local files only and never calls the gateway.
package cli

import (
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/refgrid/internal/encode"
	"github.com/JonMunkholm/refgrid/internal/schema"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format     string // "json" | "text"
	SchemaFile string
	Delimiter  string

	registry *schema.Registry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the refgridctl root command. Tables come from
// registry plus any --schema file.
func NewRootCommand(registry *schema.Registry) *cobra.Command {
	opts := &RootOptions{registry: registry}

	cmd := &cobra.Command{
		Use:   "refgridctl",
		Short: "Inspect reference tables, reconcile CSV files and preview commands",
		Long: `refgridctl works on local files with the same schema registry, reconciliation
engine and record encoder as the refgrid server. Nothing is sent to the gateway.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the error once
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if utf8.RuneCountInString(opts.Delimiter) != 1 {
				return fmt.Errorf("delimiter must be a single character, got %q", opts.Delimiter)
			}
			if err := encode.ValidateDelimiter(opts.delimiter()); err != nil {
				return err
			}
			if opts.SchemaFile != "" {
				if _, err := opts.registry.LoadYAMLFile(opts.SchemaFile); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.SchemaFile, "schema", "", "extra table declarations (YAML)")
	cmd.PersistentFlags().StringVar(&opts.Delimiter, "delimiter", string(encode.DefaultDelimiter), "command field delimiter")

	cmd.AddCommand(NewTablesCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewEncodeCommand(opts))

	return cmd
}

func (o *RootOptions) delimiter() rune {
	r, _ := utf8.DecodeRuneInString(o.Delimiter)
	return r
}

func (o *RootOptions) encoder() *encode.Encoder {
	return encode.New(o.delimiter(), o.registry)
}
