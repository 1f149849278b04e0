package normstore

import (
	"fmt"

	"github.com/roach88/perpetua/internal/model"
)

// ScopeKind names which ordered list a Scope addresses.
type ScopeKind string

const (
	ScopeUserShelves ScopeKind = "user_shelves"
	ScopeItems       ScopeKind = "items"
	ScopeSlots       ScopeKind = "slots"
)

// Scope identifies one order array: a principal's shelves, or the items or
// slots of one shelf.
type Scope struct {
	Kind      ScopeKind
	Principal model.Principal
	Shelf     model.ShelfID
}

func UserShelvesScope(p model.Principal) Scope {
	return Scope{Kind: ScopeUserShelves, Principal: p}
}

func ItemsScope(id model.ShelfID) Scope {
	return Scope{Kind: ScopeItems, Shelf: id}
}

func SlotsScope(id model.ShelfID) Scope {
	return Scope{Kind: ScopeSlots, Shelf: id}
}

// DimensionScope maps a shelf dimension to its scope.
func DimensionScope(id model.ShelfID, dim model.Dimension) Scope {
	if dim == model.DimensionSlots {
		return SlotsScope(id)
	}
	return ItemsScope(id)
}

func (s Scope) String() string {
	if s.Kind == ScopeUserShelves {
		return fmt.Sprintf("%s/%s", s.Kind, s.Principal)
	}
	return fmt.Sprintf("%s/%s", s.Kind, s.Shelf)
}
