package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/perpetua/internal/model"
)

var (
	// ErrReorderInFlight is returned when a gesture starts on a scope that
	// already has one in progress. Gestures are never queued.
	ErrReorderInFlight = errors.New("reorder already in flight for this scope")

	// ErrIllegalTransition is returned for a gesture step that does not
	// apply to the scope's current state, e.g. Drop without BeginDrag.
	ErrIllegalTransition = errors.New("illegal reorder state transition")

	// ErrUnknownShelf is returned when a gesture names a shelf that has not
	// been loaded into the store.
	ErrUnknownShelf = errors.New("shelf not loaded")
)

// MoveLimitError is returned when a bulk reorder would need more single
// moves than the configured limit. Nothing is applied.
type MoveLimitError struct {
	Shelf     model.ShelfID
	Dimension model.Dimension
	Moves     int // moves the reorder decomposes into
	Limit     int
}

func (e *MoveLimitError) Error() string {
	return fmt.Sprintf("reorder of %s %s needs %d moves, limit is %d", e.Shelf, e.Dimension, e.Moves, e.Limit)
}

// IsMoveLimitError reports whether err is a MoveLimitError.
// Uses errors.As to handle wrapped errors.
func IsMoveLimitError(err error) bool {
	var me *MoveLimitError
	return errors.As(err, &me)
}
