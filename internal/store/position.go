package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/perpetua/internal/gateway"
	"github.com/roach88/perpetua/internal/model"
)

// positionGap is the spacing given to every element after a renumber.
const positionGap = 1024

type positioned struct {
	id  int64
	pos int64
}

// positionKey renders an integer position as a fixed-width key so keys
// compare bytewise in the same order as the integers.
func positionKey(pos int64) model.PositionKey {
	return model.PositionKey(fmt.Sprintf("%012x", pos))
}

// table is "items" or "slots"; never user input.
func listPositions(ctx context.Context, tx *sql.Tx, table, shelf string) ([]positioned, error) {
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, position FROM %s WHERE shelf_id = ? ORDER BY position, id`, table), shelf)
	if err != nil {
		return nil, fmt.Errorf("list %s positions: %w", table, err)
	}
	defer rows.Close()

	out := []positioned{}
	for rows.Next() {
		var p positioned
		if err := rows.Scan(&p.id, &p.pos); err != nil {
			return nil, fmt.Errorf("scan %s position: %w", table, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func renumber(ctx context.Context, tx *sql.Tx, table, shelf string, list []positioned) error {
	for i := range list {
		list[i].pos = int64(i+1) * positionGap
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET position = ? WHERE shelf_id = ? AND id = ?`, table),
			list[i].pos, shelf, list[i].id); err != nil {
			return fmt.Errorf("renumber %s: %w", table, err)
		}
	}
	return nil
}

// place computes the position for moving (nil for a new element) so that
// it lands immediately before or after ref, or at the head or tail when
// ref is nil. When no integer fits between the neighbours the rest of the
// list is renumbered first and renumbered is true.
func place(ctx context.Context, tx *sql.Tx, table, shelf string, moving, ref *int64, before bool) (pos int64, renumbered bool, err error) {
	all, err := listPositions(ctx, tx, table, shelf)
	if err != nil {
		return 0, false, err
	}
	list := all[:0:0]
	for _, p := range all {
		if moving == nil || p.id != *moving {
			list = append(list, p)
		}
	}

	idx := len(list)
	switch {
	case ref == nil && before:
		idx = 0
	case ref != nil:
		idx = -1
		for i, p := range list {
			if p.id == *ref {
				idx = i
				break
			}
		}
		if idx < 0 {
			return 0, false, gateway.Reject(gateway.TagReferenceNotFound, "%s %d not on shelf %s", table, *ref, shelf)
		}
		if !before {
			idx++
		}
	}

	bounds := func() (int64, int64) {
		lower := int64(0)
		if idx > 0 {
			lower = list[idx-1].pos
		}
		if idx == len(list) {
			return lower, lower + 2*positionGap
		}
		return lower, list[idx].pos
	}

	lower, upper := bounds()
	if upper-lower < 2 {
		if err := renumber(ctx, tx, table, shelf, list); err != nil {
			return 0, false, err
		}
		renumbered = true
		lower, upper = bounds()
	}
	return lower + (upper-lower)/2, renumbered, nil
}
