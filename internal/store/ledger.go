package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/perpetua/internal/gateway"
	"github.com/roach88/perpetua/internal/model"
)

// DefaultPageLimit applies when a page request carries no limit.
const DefaultPageLimit = 20

// Actor is the ledger seen by one principal. It satisfies gateway.Actor.
type Actor struct {
	s         *Store
	principal model.Principal
}

var _ gateway.Actor = (*Actor)(nil)

// ActorFor binds the ledger to a calling principal.
func (s *Store) ActorFor(p model.Principal) *Actor {
	return &Actor{s: s, principal: p}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadShelf(ctx context.Context, q querier, id model.ShelfID) (model.Shelf, error) {
	var (
		sh          model.Shelf
		description sql.NullString
		tags        string
		created     int64
		updated     int64
		needs       int
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, owner, title, description, tags, visibility, created_at, updated_at,
		       rebalance_count, needs_rebalance
		FROM shelves WHERE id = ?
	`, string(id)).Scan(&sh.ID, &sh.Owner, &sh.Title, &description, &tags, &sh.Visibility,
		&created, &updated, &sh.RebalanceCount, &needs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Shelf{}, gateway.Reject(gateway.TagShelfNotFound, "shelf %s", id)
	}
	if err != nil {
		return model.Shelf{}, fmt.Errorf("load shelf %s: %w", id, err)
	}
	if description.Valid {
		d := description.String
		sh.Description = &d
	}
	if err := json.Unmarshal([]byte(tags), &sh.Tags); err != nil {
		return model.Shelf{}, fmt.Errorf("load shelf %s: tags: %w", id, err)
	}
	sh.CreatedAt = time.Unix(0, created).UTC()
	sh.UpdatedAt = time.Unix(0, updated).UTC()
	sh.NeedsRebalance = needs != 0

	rows, err := q.QueryContext(ctx, `SELECT principal FROM shelf_editors WHERE shelf_id = ? ORDER BY principal`, string(id))
	if err != nil {
		return model.Shelf{}, fmt.Errorf("load editors %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Principal
		if err := rows.Scan(&p); err != nil {
			return model.Shelf{}, fmt.Errorf("scan editor: %w", err)
		}
		sh.Editors = append(sh.Editors, p)
	}
	return sh, rows.Err()
}

// editable loads a shelf and checks that the actor may change it.
func (a *Actor) editable(ctx context.Context, tx *sql.Tx, id model.ShelfID) (model.Shelf, error) {
	sh, err := loadShelf(ctx, tx, id)
	if err != nil {
		return model.Shelf{}, err
	}
	if !sh.CanEdit(a.principal) {
		return model.Shelf{}, gateway.Reject(gateway.TagNotOwner, "%s cannot edit shelf %s", a.principal, id)
	}
	return sh, nil
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func bumpRebalance(ctx context.Context, tx *sql.Tx, id model.ShelfID) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE shelves SET rebalance_count = rebalance_count + 1 WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("bump rebalance count: %w", err)
	}
	return nil
}

func (s *Store) touch(ctx context.Context, tx *sql.Tx, id model.ShelfID) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE shelves SET updated_at = ? WHERE id = ?`, s.now().UnixNano(), string(id)); err != nil {
		return fmt.Errorf("touch shelf: %w", err)
	}
	return nil
}

func (a *Actor) CreateShelf(ctx context.Context, title string, description *string, tags []string) (model.ShelfID, error) {
	if strings.TrimSpace(title) == "" {
		return "", gateway.Reject(gateway.TagInvalidInput, "title must not be empty")
	}
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("create shelf: tags: %w", err)
	}

	var id model.ShelfID
	err = a.s.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextCounter(ctx, tx, "shelf")
		if err != nil {
			return err
		}
		id = model.ShelfID("S" + strconv.FormatInt(seq, 10))
		now := a.s.now().UnixNano()
		var desc any
		if description != nil {
			desc = *description
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO shelves (id, owner, title, description, tags, visibility, created_at, updated_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, string(id), string(a.principal), title, desc, string(tagsJSON), string(model.VisibilityPrivate), now, now, seq)
		if err != nil {
			return fmt.Errorf("create shelf: %w", err)
		}
		return nil
	})
	return id, err
}

func (a *Actor) UpdateShelfMetadata(ctx context.Context, id model.ShelfID, title, description *string) error {
	if title != nil && strings.TrimSpace(*title) == "" {
		return gateway.Reject(gateway.TagInvalidInput, "title must not be empty")
	}
	return a.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := a.editable(ctx, tx, id); err != nil {
			return err
		}
		if title != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE shelves SET title = ? WHERE id = ?`, *title, string(id)); err != nil {
				return fmt.Errorf("update title: %w", err)
			}
		}
		if description != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE shelves SET description = ? WHERE id = ?`, *description, string(id)); err != nil {
				return fmt.Errorf("update description: %w", err)
			}
		}
		return a.s.touch(ctx, tx, id)
	})
}

func (a *Actor) AddItemToShelf(ctx context.Context, id model.ShelfID, req model.AddItemRequest) (model.ItemID, error) {
	if err := req.Content.Validate("add_item"); err != nil {
		return 0, gateway.Reject(gateway.TagInvalidInput, "%v", err)
	}

	var itemID model.ItemID
	err := a.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := a.editable(ctx, tx, id); err != nil {
			return err
		}
		c := req.Content
		if c.Kind == model.ContentShelf {
			if _, err := loadShelf(ctx, tx, c.Shelf); err != nil {
				return err
			}
			cyclic, err := containsAncestor(ctx, tx, id, c.Shelf)
			if err != nil {
				return err
			}
			if cyclic {
				return gateway.Reject(gateway.TagCycleDetected, "shelf %s cannot contain %s", id, c.Shelf)
			}
		}

		var ref *int64
		if req.ReferenceItemID != nil {
			r := int64(*req.ReferenceItemID)
			ref = &r
		}
		pos, renumbered, err := place(ctx, tx, "items", string(id), nil, ref, req.Before)
		if err != nil {
			return err
		}
		n, err := nextCounter(ctx, tx, "item")
		if err != nil {
			return err
		}
		itemID = model.ItemID(n)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO items (shelf_id, id, kind, token_id, markdown, child_shelf, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(id), n, string(c.Kind), nullable(c.TokenID), nullable(c.Markdown), nullable(string(c.Shelf)), pos)
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}

		// every item gets a slot appended to the slot order
		slotPos, slotRenumbered, err := place(ctx, tx, "slots", string(id), nil, nil, false)
		if err != nil {
			return err
		}
		slotID, err := nextCounter(ctx, tx, "slot")
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO slots (shelf_id, id, item_id, position) VALUES (?, ?, ?, ?)
		`, string(id), slotID, n, slotPos); err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}

		if renumbered || slotRenumbered {
			if err := bumpRebalance(ctx, tx, id); err != nil {
				return err
			}
		}
		return a.s.touch(ctx, tx, id)
	})
	return itemID, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// containsAncestor reports whether child is parent or one of the shelves
// that (transitively) contain parent.
func containsAncestor(ctx context.Context, tx *sql.Tx, parent, child model.ShelfID) (bool, error) {
	var found int
	err := tx.QueryRowContext(ctx, `
		WITH RECURSIVE ancestors(id) AS (
			SELECT ?
			UNION
			SELECT i.shelf_id FROM items i JOIN ancestors a ON i.child_shelf = a.id
		)
		SELECT COUNT(*) FROM ancestors WHERE id = ?
	`, string(parent), string(child)).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("cycle check: %w", err)
	}
	return found > 0, nil
}

func (a *Actor) RemoveItem(ctx context.Context, id model.ShelfID, item model.ItemID) error {
	return a.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := a.editable(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE shelf_id = ? AND id = ?`, string(id), int64(item))
		if err != nil {
			return fmt.Errorf("remove item: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("remove item: %w", err)
		} else if n == 0 {
			return gateway.Reject(gateway.TagItemNotFound, "item %d not on shelf %s", item, id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE shelf_id = ? AND item_id = ?`, string(id), int64(item)); err != nil {
			return fmt.Errorf("remove slots: %w", err)
		}
		return a.s.touch(ctx, tx, id)
	})
}

func (a *Actor) ReorderItem(ctx context.Context, id model.ShelfID, item model.ItemID, ref *model.ItemID, before bool) error {
	var r *int64
	if ref != nil {
		v := int64(*ref)
		r = &v
	}
	return a.reorder(ctx, "items", gateway.TagItemNotFound, id, int64(item), r, before)
}

func (a *Actor) ReorderSlot(ctx context.Context, id model.ShelfID, slot model.SlotID, ref *model.SlotID, before bool) error {
	var r *int64
	if ref != nil {
		v := int64(*ref)
		r = &v
	}
	return a.reorder(ctx, "slots", gateway.TagSlotNotFound, id, int64(slot), r, before)
}

func (a *Actor) reorder(ctx context.Context, table, missingTag string, id model.ShelfID, moving int64, ref *int64, before bool) error {
	if ref != nil && *ref == moving {
		return gateway.Reject(gateway.TagInvalidInput, "%s %d cannot be positioned relative to itself", table, moving)
	}
	return a.s.withTx(ctx, func(tx *sql.Tx) error {
		sh, err := a.editable(ctx, tx, id)
		if err != nil {
			return err
		}
		if sh.NeedsRebalance {
			return gateway.Reject(gateway.TagRebalanceInProgress, "shelf %s", id)
		}
		var exists int
		if err := tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE shelf_id = ? AND id = ?`, table),
			string(id), moving).Scan(&exists); err != nil {
			return fmt.Errorf("reorder: %w", err)
		}
		if exists == 0 {
			return gateway.Reject(missingTag, "%d not on shelf %s", moving, id)
		}

		pos, renumbered, err := place(ctx, tx, table, string(id), &moving, ref, before)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET position = ? WHERE shelf_id = ? AND id = ?`, table),
			pos, string(id), moving); err != nil {
			return fmt.Errorf("reorder: %w", err)
		}
		if renumbered {
			if err := bumpRebalance(ctx, tx, id); err != nil {
				return err
			}
		}
		return a.s.touch(ctx, tx, id)
	})
}

func (a *Actor) visible(sh model.Shelf) bool {
	return sh.Visibility == model.VisibilityPublic || sh.CanEdit(a.principal)
}

func (a *Actor) GetShelf(ctx context.Context, id model.ShelfID) (model.ShelfSnapshot, error) {
	sh, err := loadShelf(ctx, a.s.db, id)
	if err != nil {
		return model.ShelfSnapshot{}, err
	}
	if !a.visible(sh) {
		return model.ShelfSnapshot{}, gateway.Reject(gateway.TagUnauthorized, "shelf %s is private", id)
	}

	snap := model.ShelfSnapshot{Shelf: sh, Items: []model.Item{}, Slots: []model.Slot{}}
	snap.Shelf.ItemPositions = make(map[model.ItemID]model.PositionKey)

	rows, err := a.s.db.QueryContext(ctx, `
		SELECT id, kind, token_id, markdown, child_shelf, position
		FROM items WHERE shelf_id = ? ORDER BY position, id
	`, string(id))
	if err != nil {
		return model.ShelfSnapshot{}, fmt.Errorf("get shelf items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it                     model.Item
			kind                   string
			token, markdown, child sql.NullString
			pos                    int64
		)
		if err := rows.Scan(&it.ID, &kind, &token, &markdown, &child, &pos); err != nil {
			return model.ShelfSnapshot{}, fmt.Errorf("scan item: %w", err)
		}
		it.ShelfID = id
		it.Content = model.ItemContent{
			Kind:     model.ContentKind(kind),
			TokenID:  token.String,
			Markdown: markdown.String,
			Shelf:    model.ShelfID(child.String),
		}
		snap.Items = append(snap.Items, it)
		snap.Shelf.ItemPositions[it.ID] = positionKey(pos)
	}
	if err := rows.Err(); err != nil {
		return model.ShelfSnapshot{}, err
	}

	slotRows, err := a.s.db.QueryContext(ctx, `
		SELECT id, item_id, position FROM slots WHERE shelf_id = ? ORDER BY position, id
	`, string(id))
	if err != nil {
		return model.ShelfSnapshot{}, fmt.Errorf("get shelf slots: %w", err)
	}
	defer slotRows.Close()
	for slotRows.Next() {
		var (
			sl  model.Slot
			pos int64
		)
		if err := slotRows.Scan(&sl.ID, &sl.ItemRef, &pos); err != nil {
			return model.ShelfSnapshot{}, fmt.Errorf("scan slot: %w", err)
		}
		sl.ShelfID = id
		sl.Position = positionKey(pos)
		snap.Slots = append(snap.Slots, sl)
	}
	return snap, slotRows.Err()
}

// ListShelves pages through owner's shelves in creation order. Callers
// other than the owner see public shelves only. Cursors are opaque
// "c<seq>" strings.
func (a *Actor) ListShelves(ctx context.Context, owner model.Principal, page model.Page) (model.ShelfPage, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	after := int64(0)
	offset := page.Offset
	if page.Cursor != "" {
		n, err := strconv.ParseInt(strings.TrimPrefix(page.Cursor, "c"), 10, 64)
		if err != nil || !strings.HasPrefix(page.Cursor, "c") {
			return model.ShelfPage{}, gateway.Reject(gateway.TagInvalidInput, "bad cursor %q", page.Cursor)
		}
		after, offset = n, 0
	}

	rows, err := a.s.db.QueryContext(ctx, `
		SELECT id, seq FROM shelves
		WHERE owner = ? AND seq > ? AND (visibility = ? OR owner = ?
			OR EXISTS (SELECT 1 FROM shelf_editors e WHERE e.shelf_id = shelves.id AND e.principal = ?))
		ORDER BY seq
		LIMIT ? OFFSET ?
	`, string(owner), after, string(model.VisibilityPublic), string(a.principal), string(a.principal), limit+1, offset)
	if err != nil {
		return model.ShelfPage{}, fmt.Errorf("list shelves: %w", err)
	}
	type row struct {
		id  model.ShelfID
		seq int64
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.seq); err != nil {
			rows.Close()
			return model.ShelfPage{}, fmt.Errorf("scan shelf: %w", err)
		}
		found = append(found, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.ShelfPage{}, err
	}

	out := model.ShelfPage{Shelves: []model.Shelf{}}
	if len(found) > limit {
		found = found[:limit]
		out.NextCursor = "c" + strconv.FormatInt(found[len(found)-1].seq, 10)
	}
	for _, r := range found {
		sh, err := loadShelf(ctx, a.s.db, r.id)
		if err != nil {
			return model.ShelfPage{}, err
		}
		out.Shelves = append(out.Shelves, sh)
	}
	return out, nil
}

// MarkRebalance flags a shelf as being rebalanced. Reorders are refused
// until Rebalance completes.
func (s *Store) MarkRebalance(ctx context.Context, id model.ShelfID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := loadShelf(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE shelves SET needs_rebalance = 1 WHERE id = ?`, string(id)); err != nil {
			return fmt.Errorf("mark rebalance: %w", err)
		}
		return nil
	})
}

// Rebalance renumbers a shelf's items and slots, increments its rebalance
// counter and clears the flag.
func (s *Store) Rebalance(ctx context.Context, id model.ShelfID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := loadShelf(ctx, tx, id); err != nil {
			return err
		}
		for _, table := range []string{"items", "slots"} {
			list, err := listPositions(ctx, tx, table, string(id))
			if err != nil {
				return err
			}
			if err := renumber(ctx, tx, table, string(id), list); err != nil {
				return err
			}
		}
		if err := bumpRebalance(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE shelves SET needs_rebalance = 0 WHERE id = ?`, string(id)); err != nil {
			return fmt.Errorf("rebalance: %w", err)
		}
		return nil
	})
}

// AddEditor grants p edit rights on a shelf.
func (s *Store) AddEditor(ctx context.Context, id model.ShelfID, p model.Principal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := loadShelf(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shelf_editors (shelf_id, principal) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, string(id), string(p)); err != nil {
			return fmt.Errorf("add editor: %w", err)
		}
		return nil
	})
}

// SetVisibility changes who can read a shelf.
func (s *Store) SetVisibility(ctx context.Context, id model.ShelfID, v model.Visibility) error {
	if v != model.VisibilityPublic && v != model.VisibilityPrivate {
		return fmt.Errorf("set visibility: unknown visibility %q", v)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE shelves SET visibility = ? WHERE id = ?`, string(v), string(id))
	if err != nil {
		return fmt.Errorf("set visibility: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gateway.Reject(gateway.TagShelfNotFound, "shelf %s", id)
	}
	return nil
}
