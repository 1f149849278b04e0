package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/perpetua/internal/model"
)

// Actor is the remote authority's contract. An implementation is bound to
// one calling principal.
//
// Expected rejections are returned as *Rejection carrying the remote's
// error tag. Any other error is treated as a transport failure or an
// unrecognized fault.
type Actor interface {
	CreateShelf(ctx context.Context, title string, description *string, tags []string) (model.ShelfID, error)
	UpdateShelfMetadata(ctx context.Context, id model.ShelfID, title, description *string) error
	AddItemToShelf(ctx context.Context, id model.ShelfID, req model.AddItemRequest) (model.ItemID, error)
	RemoveItem(ctx context.Context, id model.ShelfID, item model.ItemID) error
	ReorderItem(ctx context.Context, id model.ShelfID, item model.ItemID, ref *model.ItemID, before bool) error
	ReorderSlot(ctx context.Context, id model.ShelfID, slot model.SlotID, ref *model.SlotID, before bool) error
	GetShelf(ctx context.Context, id model.ShelfID) (model.ShelfSnapshot, error)
	ListShelves(ctx context.Context, owner model.Principal, page model.Page) (model.ShelfPage, error)
}

// Rejection tags the authority is known to return.
const (
	TagNotOwner            = "NotOwner"
	TagUnauthorized        = "Unauthorized"
	TagForbidden           = "Forbidden"
	TagRebalanceInProgress = "RebalanceInProgress"
	TagItemNotFound        = "ItemNotFound"
	TagSlotNotFound        = "SlotNotFound"
	TagReferenceNotFound   = "ReferenceNotFound"
	TagShelfNotFound       = "ShelfNotFound"
	TagPositionConflict    = "PositionConflict"
	TagInvalidInput        = "InvalidInput"
	TagCycleDetected       = "CycleDetected"
)

// Rejection is an error returned by the authority itself, as opposed to a
// failure to reach it.
type Rejection struct {
	Tag     string
	Message string
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return r.Tag
	}
	return fmt.Sprintf("%s: %s", r.Tag, r.Message)
}

// Reject builds a Rejection.
func Reject(tag, format string, args ...any) *Rejection {
	return &Rejection{Tag: tag, Message: fmt.Sprintf(format, args...)}
}

// ErrUnavailable is returned by actors that cannot reach the authority.
var ErrUnavailable = errors.New("authority unavailable")
