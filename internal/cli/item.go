package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/perpetua/internal/engine"
	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/order"
)

// NewItemCommand groups the item subcommands.
func NewItemCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Add, remove and move items on a shelf",
	}
	cmd.AddCommand(newItemAddCommand(rootOpts))
	cmd.AddCommand(newItemRemoveCommand(rootOpts))
	cmd.AddCommand(newMoveCommand(rootOpts, model.DimensionItems))
	return cmd
}

// NewSlotCommand groups the slot subcommands.
func NewSlotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slot",
		Short: "Move slots on a shelf",
	}
	cmd.AddCommand(newMoveCommand(rootOpts, model.DimensionSlots))
	return cmd
}

func newItemAddCommand(opts *RootOptions) *cobra.Command {
	var (
		markdown, nft, shelf string
		ref                  uint64
		before               bool
	)
	cmd := &cobra.Command{
		Use:   "add <shelf>",
		Short: "Add an item, at the end or next to a reference item",
		Example: `  perpetua item add S1 --markdown "Dune"
  perpetua item add S1 --nft 0xabc --ref 2 --before
  perpetua item add S1 --shelf S2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content model.ItemContent
			set := 0
			if cmd.Flags().Changed("markdown") {
				content, set = model.MarkdownContent(markdown), set+1
			}
			if cmd.Flags().Changed("nft") {
				content, set = model.NFTContent(nft), set+1
			}
			if cmd.Flags().Changed("shelf") {
				content, set = model.ShelfContent(model.ShelfID(shelf)), set+1
			}
			if set != 1 {
				return NewExitError(ExitCommandError, "pass exactly one of --markdown, --nft or --shelf")
			}

			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			id := model.ShelfID(args[0])
			if _, err := s.load(cmd, id); err != nil {
				return err
			}
			var rp *model.ItemID
			if cmd.Flags().Changed("ref") {
				r := model.ItemID(ref)
				rp = &r
			}
			item, err := s.engine.AddItem(cmd.Context(), id, content, rp, before)
			if err != nil {
				return s.out.Fail("failed to add item", err)
			}
			return s.out.Success(map[string]any{"shelf": id, "item": item}, func(w io.Writer) {
				fmt.Fprintf(w, "Added item %s to %s\n", item, id)
			})
		},
	}
	cmd.Flags().StringVar(&markdown, "markdown", "", "markdown text")
	cmd.Flags().StringVar(&nft, "nft", "", "NFT token id")
	cmd.Flags().StringVar(&shelf, "shelf", "", "nest another shelf")
	cmd.Flags().Uint64Var(&ref, "ref", 0, "reference item id")
	cmd.Flags().BoolVar(&before, "before", false, "place before the reference instead of after")
	return cmd
}

func newItemRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <shelf> <item>",
		Short: "Remove an item and its slots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := model.ParseItemID(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid item id", err)
			}
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			id := model.ShelfID(args[0])
			if _, err := s.load(cmd, id); err != nil {
				return err
			}
			if err := s.engine.RemoveItem(cmd.Context(), id, item); err != nil {
				return s.out.Fail("failed to remove item", err)
			}
			return s.out.Success(map[string]any{"shelf": id, "item": item}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed item %s from %s\n", item, id)
			})
		},
	}
}

// newMoveCommand moves one element of a dimension, either by index like a
// drag and drop or relative to a reference element.
func newMoveCommand(opts *RootOptions, dim model.Dimension) *cobra.Command {
	var (
		from, to int
		ref      string
		before   bool
	)
	noun := "item"
	if dim == model.DimensionSlots {
		noun = "slot"
	}
	cmd := &cobra.Command{
		Use:   "move <shelf> [" + noun + "]",
		Short: "Move one " + noun + " by index or next to another " + noun,
		Example: fmt.Sprintf(`  perpetua %[1]s move S1 --from 2 --to 0
  perpetua %[1]s move S1 3 --ref 1 --before
  perpetua %[1]s move S1 3            # to the end`, noun),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			byIndex := cmd.Flags().Changed("from") || cmd.Flags().Changed("to")
			if byIndex == (len(args) == 2) {
				return NewExitError(ExitCommandError, "pass either --from/--to or an "+noun+" id")
			}

			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			id := model.ShelfID(args[0])
			if _, err := s.load(cmd, id); err != nil {
				return err
			}
			co := s.engine.Coordinator()

			var out engine.Outcome
			if byIndex {
				if err := co.BeginDrag(id, dim); err != nil {
					return s.out.Fail("failed to start move", err)
				}
				out, err = co.Drop(cmd.Context(), id, dim, from, to)
			} else {
				mc := order.Command[string]{ID: args[1], Before: before}
				if cmd.Flags().Changed("ref") {
					mc.Ref = &ref
				}
				out, err = co.MoveRelative(cmd.Context(), id, dim, mc)
			}
			if err != nil {
				return s.out.Fail("move "+out.String(), err)
			}
			return s.out.Success(map[string]any{"shelf": id, "outcome": out.String()}, func(w io.Writer) {
				fmt.Fprintf(w, "Move %s\n", out)
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "current index")
	cmd.Flags().IntVar(&to, "to", 0, "target index")
	cmd.Flags().StringVar(&ref, "ref", "", "reference "+noun+" id")
	cmd.Flags().BoolVar(&before, "before", false, "place before the reference instead of after")
	return cmd
}
