package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/perpetua/internal/model"
)

// NewShelfCommand groups the shelf subcommands.
func NewShelfCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shelf",
		Short: "Create, edit and inspect shelves",
	}
	cmd.AddCommand(newShelfCreateCommand(rootOpts))
	cmd.AddCommand(newShelfUpdateCommand(rootOpts))
	cmd.AddCommand(newShelfShowCommand(rootOpts))
	cmd.AddCommand(newShelfListCommand(rootOpts))
	return cmd
}

func newShelfCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		description string
		tags        []string
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a shelf owned by the current principal",
		Example: `  perpetua shelf create "Reading list" --tag books --tag 2026
  perpetua shelf create "Drafts" --description "not public yet"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			var desc *string
			if cmd.Flags().Changed("description") {
				desc = &description
			}
			id, err := s.engine.CreateShelf(cmd.Context(), args[0], desc, tags)
			if err != nil {
				return s.out.Fail("failed to create shelf", err)
			}
			return s.out.Success(map[string]any{"shelf": id}, func(w io.Writer) {
				fmt.Fprintf(w, "Created shelf %s\n", id)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "shelf description")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag (repeatable)")
	return cmd
}

func newShelfUpdateCommand(opts *RootOptions) *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "update <shelf>",
		Short: "Change a shelf's title or description",
		Example: `  perpetua shelf update S1 --title "Read next"
  perpetua shelf update S1 --description ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tp, dp *string
			if cmd.Flags().Changed("title") {
				tp = &title
			}
			if cmd.Flags().Changed("description") {
				dp = &description
			}
			if tp == nil && dp == nil {
				return NewExitError(ExitCommandError, "nothing to update: pass --title or --description")
			}

			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			id := model.ShelfID(args[0])
			// Load first so the local permission check has the shelf's editors.
			if _, err := s.load(cmd, id); err != nil {
				return err
			}
			if err := s.engine.UpdateShelfMetadata(cmd.Context(), id, tp, dp); err != nil {
				return s.out.Fail("failed to update shelf", err)
			}
			return s.out.Success(map[string]any{"shelf": id}, func(w io.Writer) {
				fmt.Fprintf(w, "Updated shelf %s\n", id)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description (empty clears it)")
	return cmd
}

func newShelfShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <shelf>",
		Short: "Print a shelf with its items and slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			snap, status, err := s.engine.ShelfView(cmd.Context(), model.ShelfID(args[0]))
			if err != nil {
				return s.out.Fail("failed to read shelf", err)
			}
			s.out.VerboseLog("cache: %s", status)
			return s.out.Success(snap, func(w io.Writer) { printSnapshot(w, snap) })
		},
	}
}

func newShelfListCommand(opts *RootOptions) *cobra.Command {
	var (
		owner  string
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a principal's shelves, one page at a time",
		Example: `  perpetua shelf list
  perpetua shelf list --owner bob --limit 5 --cursor 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			p := s.engine.Principal()
			if owner != "" {
				p = model.Principal(owner)
			}
			if limit == 0 {
				limit = s.cfg.List.PageSize
			}
			page, err := s.engine.LoadShelves(cmd.Context(), p, model.Page{Limit: limit, Cursor: cursor})
			if err != nil {
				return s.out.Fail("failed to list shelves", err)
			}
			return s.out.Success(page, func(w io.Writer) {
				if len(page.Shelves) == 0 {
					fmt.Fprintln(w, "No shelves.")
				}
				for _, sh := range page.Shelves {
					fmt.Fprintf(w, "%s\t%s\t%s\n", sh.ID, sh.Title, sh.Visibility)
				}
				if page.NextCursor != "" {
					fmt.Fprintf(w, "next: --cursor %s\n", page.NextCursor)
				}
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "whose shelves to list (default: yourself)")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default: list.page_size)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	return cmd
}

func printSnapshot(w io.Writer, snap model.ShelfSnapshot) {
	sh := snap.Shelf
	fmt.Fprintf(w, "%s  %s  (owner %s, %s)\n", sh.ID, sh.Title, sh.Owner, sh.Visibility)
	if sh.Description != nil {
		fmt.Fprintf(w, "  %s\n", *sh.Description)
	}
	if len(sh.Tags) > 0 {
		fmt.Fprintf(w, "  tags: %v\n", sh.Tags)
	}
	if sh.NeedsRebalance {
		fmt.Fprintln(w, "  rebalance in progress")
	}
	fmt.Fprintln(w, "items:")
	for i, it := range snap.Items {
		fmt.Fprintf(w, "  %d. [%s] %s\n", i, it.ID, describeContent(it.Content))
	}
	fmt.Fprintln(w, "slots:")
	for i, sl := range snap.Slots {
		fmt.Fprintf(w, "  %d. [%s] -> item %s\n", i, sl.ID, sl.ItemRef)
	}
}

func describeContent(c model.ItemContent) string {
	switch c.Kind {
	case model.ContentNFT:
		return "nft " + c.TokenID
	case model.ContentShelf:
		return "shelf " + string(c.Shelf)
	default:
		return c.Markdown
	}
}
