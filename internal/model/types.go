package model

import (
	"fmt"
	"strconv"
	"time"
)

// Principal identifies an authenticated caller or a shelf owner.
type Principal string

// ShelfID is a globally unique shelf identifier issued by the remote authority.
type ShelfID string

// ItemID identifies an item within one shelf.
type ItemID uint64

// SlotID identifies a slot within one shelf. Slot ids live in a namespace
// disjoint from item ids.
type SlotID uint64

// String renders the id the way order arrays store it.
func (id ItemID) String() string { return strconv.FormatUint(uint64(id), 10) }

// String renders the id the way order arrays store it.
func (id SlotID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseItemID parses the decimal form produced by ItemID.String.
func ParseItemID(s string) (ItemID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse item id %q: %w", s, err)
	}
	return ItemID(n), nil
}

// ParseSlotID parses the decimal form produced by SlotID.String.
func ParseSlotID(s string) (SlotID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse slot id %q: %w", s, err)
	}
	return SlotID(n), nil
}

// PositionKey is an opaque sort key assigned by the remote authority.
// Keys compare bytewise.
type PositionKey string

// Visibility of a shelf.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Dimension selects one of the two independently ordered lists of a shelf.
type Dimension string

const (
	DimensionItems Dimension = "items"
	DimensionSlots Dimension = "slots"
)

// Shelf mirrors the remote shelf record.
type Shelf struct {
	ID          ShelfID     `json:"id"`
	Title       string      `json:"title"`
	Description *string     `json:"description,omitempty"`
	Owner       Principal   `json:"owner"`
	Editors     []Principal `json:"editors,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Visibility  Visibility  `json:"visibility"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	// ItemPositions holds the authority's key for every item on the shelf.
	ItemPositions map[ItemID]PositionKey `json:"item_positions,omitempty"`

	// RebalanceCount increments every time the authority renumbers keys.
	RebalanceCount uint64 `json:"rebalance_count"`

	// NeedsRebalance is set while a renumbering is pending or in progress.
	NeedsRebalance bool `json:"needs_rebalance"`
}

// CanEdit reports whether p owns the shelf or is listed as an editor.
func (s Shelf) CanEdit(p Principal) bool {
	if s.Owner == p {
		return true
	}
	for _, e := range s.Editors {
		if e == p {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s Shelf) Clone() Shelf {
	out := s
	if s.Description != nil {
		d := *s.Description
		out.Description = &d
	}
	out.Editors = append([]Principal(nil), s.Editors...)
	out.Tags = append([]string(nil), s.Tags...)
	if s.ItemPositions != nil {
		out.ItemPositions = make(map[ItemID]PositionKey, len(s.ItemPositions))
		for k, v := range s.ItemPositions {
			out.ItemPositions[k] = v
		}
	}
	return out
}

// ContentKind tags the ItemContent variant.
type ContentKind string

const (
	ContentNFT      ContentKind = "nft"
	ContentMarkdown ContentKind = "markdown"
	ContentShelf    ContentKind = "shelf"
)

// ItemContent is a closed variant: exactly one of an NFT token reference,
// markdown text, or a nested shelf reference.
type ItemContent struct {
	Kind     ContentKind `json:"kind"`
	TokenID  string      `json:"token_id,omitempty"`
	Markdown string      `json:"markdown,omitempty"`
	Shelf    ShelfID     `json:"shelf,omitempty"`
}

func NFTContent(tokenID string) ItemContent {
	return ItemContent{Kind: ContentNFT, TokenID: tokenID}
}

func MarkdownContent(text string) ItemContent {
	return ItemContent{Kind: ContentMarkdown, Markdown: text}
}

func ShelfContent(id ShelfID) ItemContent {
	return ItemContent{Kind: ContentShelf, Shelf: id}
}

// Item is a single entry on a shelf.
type Item struct {
	ID      ItemID      `json:"id"`
	ShelfID ShelfID     `json:"shelf_id"`
	Content ItemContent `json:"content"`
}

// Slot is a positioned reference into a shelf's content.
type Slot struct {
	ID       SlotID      `json:"id"`
	ShelfID  ShelfID     `json:"shelf_id"`
	Position PositionKey `json:"position"`
	ItemRef  ItemID      `json:"item_ref"`
}

// ShelfSnapshot is the canonical public shape returned by GetShelf: the
// shelf record plus items and slots in authority order.
type ShelfSnapshot struct {
	Shelf Shelf  `json:"shelf"`
	Items []Item `json:"items"`
	Slots []Slot `json:"slots"`
}

// Page selects a window of a principal's shelves. Cursor takes precedence
// over Offset when set.
type Page struct {
	Offset int    `json:"offset,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit"`
}

// CursorKey returns the cursor component of cache keys for this page.
func (p Page) CursorKey() string {
	if p.Cursor != "" {
		return p.Cursor
	}
	return strconv.Itoa(p.Offset)
}

// First reports whether the page starts at the head of the list.
func (p Page) First() bool {
	return p.Cursor == "" && p.Offset == 0
}

// ShelfPage is one page of a principal's shelves.
type ShelfPage struct {
	Shelves    []Shelf `json:"shelves"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// IDs returns the shelf ids on the page in order.
func (p ShelfPage) IDs() []ShelfID {
	ids := make([]ShelfID, len(p.Shelves))
	for i, s := range p.Shelves {
		ids[i] = s.ID
	}
	return ids
}

// AddItemRequest describes an item to insert, optionally positioned
// relative to an existing item.
type AddItemRequest struct {
	Content         ItemContent `json:"content"`
	ReferenceItemID *ItemID     `json:"reference_item_id,omitempty"`
	Before          bool        `json:"before"`
}
