package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/store"
)

// NewLedgerCommand groups admin operations on the local authority. They
// bypass the client and its permission checks.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Administer the local authority",
	}
	cmd.AddCommand(ledgerAdmin(rootOpts, "flag <shelf>", "Mark a shelf as being rebalanced; reorders are refused until rebalance runs",
		func(s *session, cmd *cobra.Command, id model.ShelfID, _ []string) error {
			return s.ledger.MarkRebalance(cmd.Context(), id)
		}))
	cmd.AddCommand(ledgerAdmin(rootOpts, "rebalance <shelf>", "Renumber a shelf's position keys and clear its rebalance flag",
		func(s *session, cmd *cobra.Command, id model.ShelfID, _ []string) error {
			return s.ledger.Rebalance(cmd.Context(), id)
		}))
	cmd.AddCommand(ledgerAdmin(rootOpts, "share <shelf> <principal>", "Let another principal edit a shelf",
		func(s *session, cmd *cobra.Command, id model.ShelfID, rest []string) error {
			return s.ledger.AddEditor(cmd.Context(), id, model.Principal(rest[0]))
		}))
	cmd.AddCommand(ledgerAdmin(rootOpts, "visibility <shelf> <public|private>", "Set who can see a shelf",
		func(s *session, cmd *cobra.Command, id model.ShelfID, rest []string) error {
			v := model.Visibility(rest[0])
			if v != model.VisibilityPublic && v != model.VisibilityPrivate {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid visibility %q", rest[0]))
			}
			return s.ledger.SetVisibility(cmd.Context(), id, v)
		}))
	return cmd
}

type adminFunc func(s *session, cmd *cobra.Command, id model.ShelfID, rest []string) error

func ledgerAdmin(opts *RootOptions, use, short string, run adminFunc) *cobra.Command {
	name := strings.Fields(use)[0]
	nargs := strings.Count(use, "<")

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			id := model.ShelfID(args[0])
			if err := run(s, cmd, id, args[1:]); err != nil {
				var exit *ExitError
				if errors.As(err, &exit) {
					return err
				}
				return WrapExitError(ExitFailure, "ledger "+name+" failed", err)
			}
			return s.out.Success(map[string]any{"shelf": id, "done": name}, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s done\n", id, name)
			})
		},
	}
}

// NewJournalCommand prints the ledger's call journal.
func NewJournalCommand(opts *RootOptions) *cobra.Command {
	var f store.JournalFilter
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the calls the client made and how they ended",
		Example: `  perpetua journal --shelf S1
  perpetua journal --gesture 01929f7e-... --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.ledger.ReadJournal(cmd.Context(), f)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read journal", err)
			}
			return s.out.Success(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No calls recorded.")
				}
				for _, e := range entries {
					printJournalEntry(w, e)
				}
			})
		},
	}
	cmd.Flags().StringVar(&f.Gesture, "gesture", "", "only calls from this gesture")
	cmd.Flags().StringVar(&f.Shelf, "shelf", "", "only calls on this shelf")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "at most this many calls (0 = all)")
	return cmd
}

func printJournalEntry(w io.Writer, e store.JournalEntry) {
	c := e.Call
	fmt.Fprintf(w, "%5d  %-13s %-4s %-6s", c.Seq, c.Op, c.Shelf, c.Principal)
	if c.Gesture != "" {
		fmt.Fprintf(w, " [%s]", c.Gesture)
	}
	switch {
	case e.Outcome == nil:
		fmt.Fprint(w, " -> pending")
	case e.Outcome.Detail != "":
		fmt.Fprintf(w, " -> %s %s", e.Outcome.Kind, e.Outcome.Detail)
	default:
		fmt.Fprintf(w, " -> %s", e.Outcome.Kind)
	}
	fmt.Fprintln(w)
}
