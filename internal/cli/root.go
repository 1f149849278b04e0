package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands. Database and Principal
// override the config file when set.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	Config    string
	Database  string
	Principal string
	Metrics   bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the perpetua CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "perpetua",
		Short: "Perpetua - shelves that stay in order",
		Long: `A client for ordered shelves of items kept by a remote authority.

Reorders apply locally first and are confirmed one move at a time; a
refused move reloads the authority's order. The authority here is a local
SQLite ledger that journals every call.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to a CUE config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the ledger database (overrides ledger.path)")
	cmd.PersistentFlags().StringVar(&opts.Principal, "as", "", "principal to act as (overrides identity.principal)")
	cmd.PersistentFlags().BoolVar(&opts.Metrics, "metrics", false, "print metrics to stderr on exit")

	cmd.AddCommand(NewShelfCommand(opts))
	cmd.AddCommand(NewItemCommand(opts))
	cmd.AddCommand(NewSlotCommand(opts))
	cmd.AddCommand(NewReorderCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
