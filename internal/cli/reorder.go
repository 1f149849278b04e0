package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/normstore"
)

// ReorderResult is the payload of the reorder command.
type ReorderResult struct {
	Shelf   model.ShelfID `json:"shelf"`
	Planned int           `json:"planned"`
	Applied int           `json:"applied"`
	Outcome string        `json:"outcome"`
	Order   []string      `json:"order"`
}

// NewReorderCommand creates the reorder command.
func NewReorderCommand(opts *RootOptions) *cobra.Command {
	var slots bool
	cmd := &cobra.Command{
		Use:   "reorder <shelf> <id>...",
		Short: "Put a whole dimension into a new order",
		Long: `Apply a complete new order to a shelf's items (or slots with --slots).

The permutation is sent as the fewest single moves that produce it, one at
a time. The first refused move stops the rest and reloads the shelf.`,
		Example: `  perpetua reorder S1 3 1 2
  perpetua reorder S1 --slots 6 4 5`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			id := model.ShelfID(args[0])
			dim := model.DimensionItems
			if slots {
				dim = model.DimensionSlots
			}
			if _, err := s.load(cmd, id); err != nil {
				return err
			}
			rep, err := s.engine.Coordinator().Reorder(cmd.Context(), id, dim, args[1:])
			if err != nil {
				s.out.VerboseLog("applied %d of %d moves", rep.Applied, rep.Planned)
				return s.out.Fail("reorder "+rep.Outcome.String(), err)
			}
			res := ReorderResult{
				Shelf:   id,
				Planned: rep.Planned,
				Applied: rep.Applied,
				Outcome: rep.Outcome.String(),
				Order:   s.engine.Store().Order(normstore.DimensionScope(id, dim)),
			}
			return s.out.Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "Reorder %s: %d of %d moves\n", res.Outcome, res.Applied, res.Planned)
				fmt.Fprintf(w, "order: %v\n", res.Order)
			})
		},
	}
	cmd.Flags().BoolVar(&slots, "slots", false, "reorder slots instead of items")
	return cmd
}
