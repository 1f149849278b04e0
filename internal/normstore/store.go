package normstore

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/order"
)

// Store is the client's normalized mirror of remote shelf state: id-keyed
// tables plus one order array per scope.
//
// Every order array is kept a permutation of exactly the ids registered for
// its scope. Mutations are atomic under one lock, so callers on different
// goroutines never observe a partially applied change.
type Store struct {
	mu      sync.RWMutex
	shelves map[model.ShelfID]model.Shelf
	items   map[model.ShelfID]map[model.ItemID]model.Item
	slots   map[model.ShelfID]map[model.SlotID]model.Slot
	orders  map[Scope][]string
	graph   *containment
}

// New returns an empty store.
func New() *Store {
	return &Store{
		shelves: make(map[model.ShelfID]model.Shelf),
		items:   make(map[model.ShelfID]map[model.ItemID]model.Item),
		slots:   make(map[model.ShelfID]map[model.SlotID]model.Slot),
		orders:  make(map[Scope][]string),
		graph:   newContainment(),
	}
}

// UpsertShelf inserts or replaces a shelf record. A new shelf is appended
// to its owner's shelf order; an ownership change moves it between owners.
func (s *Store) UpsertShelf(shelf model.Shelf) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertShelfLocked(shelf.Clone())
}

func (s *Store) upsertShelfLocked(shelf model.Shelf) {
	id := string(shelf.ID)
	prev, exists := s.shelves[shelf.ID]
	if exists && prev.Owner != shelf.Owner {
		scope := UserShelvesScope(prev.Owner)
		s.orders[scope] = slices.DeleteFunc(s.orders[scope], func(x string) bool { return x == id })
	}
	if !exists || prev.Owner != shelf.Owner {
		scope := UserShelvesScope(shelf.Owner)
		s.orders[scope] = append(s.orders[scope], id)
	}
	s.shelves[shelf.ID] = shelf
	if s.items[shelf.ID] == nil {
		s.items[shelf.ID] = make(map[model.ItemID]model.Item)
	}
	if s.slots[shelf.ID] == nil {
		s.slots[shelf.ID] = make(map[model.SlotID]model.Slot)
	}
}

// UpsertItem inserts or replaces an item. New ids are appended to the
// shelf's item order. Shelf-typed content is rejected when it would create
// a containment cycle.
func (s *Store) UpsertItem(item model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "upsert_item"
	table, ok := s.items[item.ShelfID]
	if !ok {
		return model.Validationf(op, "unknown shelf %s", item.ShelfID)
	}
	if err := item.Content.Validate(op); err != nil {
		return err
	}

	prev, exists := table[item.ID]
	nests := item.Content.Kind == model.ContentShelf
	sameEdge := exists && prev.Content.Kind == model.ContentShelf && prev.Content.Shelf == item.Content.Shelf
	if nests && !sameEdge && s.graph.wouldCycle(item.ShelfID, item.Content.Shelf) {
		return model.Validationf(op, "shelf %s cannot contain %s: containment cycle", item.ShelfID, item.Content.Shelf)
	}
	if exists && prev.Content.Kind == model.ContentShelf {
		s.graph.remove(item.ShelfID, prev.Content.Shelf)
	}
	if item.Content.Kind == model.ContentShelf {
		s.graph.add(item.ShelfID, item.Content.Shelf)
	}

	table[item.ID] = item
	if !exists {
		scope := ItemsScope(item.ShelfID)
		s.orders[scope] = append(s.orders[scope], item.ID.String())
	}
	return nil
}

// RemoveItem drops an item with its order entry, position key and any
// containment edge. Removing an unknown item is a validation error.
func (s *Store) RemoveItem(shelfID model.ShelfID, itemID model.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "remove_item"
	table, ok := s.items[shelfID]
	if !ok {
		return model.Validationf(op, "unknown shelf %s", shelfID)
	}
	item, ok := table[itemID]
	if !ok {
		return model.Validationf(op, "item %d not on shelf %s", itemID, shelfID)
	}
	if item.Content.Kind == model.ContentShelf {
		s.graph.remove(shelfID, item.Content.Shelf)
	}
	delete(table, itemID)

	scope := ItemsScope(shelfID)
	id := itemID.String()
	s.orders[scope] = slices.DeleteFunc(s.orders[scope], func(x string) bool { return x == id })

	shelf := s.shelves[shelfID]
	if shelf.ItemPositions != nil {
		delete(shelf.ItemPositions, itemID)
		s.shelves[shelfID] = shelf
	}
	return nil
}

// UpsertSlot inserts or replaces a slot; new ids are appended to the
// shelf's slot order.
func (s *Store) UpsertSlot(slot model.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.slots[slot.ShelfID]
	if !ok {
		return model.Validationf("upsert_slot", "unknown shelf %s", slot.ShelfID)
	}
	_, exists := table[slot.ID]
	table[slot.ID] = slot
	if !exists {
		scope := SlotsScope(slot.ShelfID)
		s.orders[scope] = append(s.orders[scope], slot.ID.String())
	}
	return nil
}

// RemoveSlot drops a slot and its order entry.
func (s *Store) RemoveSlot(shelfID model.ShelfID, slotID model.SlotID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.slots[shelfID]
	if !ok {
		return model.Validationf("remove_slot", "unknown shelf %s", shelfID)
	}
	if _, ok := table[slotID]; !ok {
		return model.Validationf("remove_slot", "slot %d not on shelf %s", slotID, shelfID)
	}
	delete(table, slotID)
	scope := SlotsScope(shelfID)
	id := slotID.String()
	s.orders[scope] = slices.DeleteFunc(s.orders[scope], func(x string) bool { return x == id })
	return nil
}

// SetOrder replaces a scope's order. ids must be a permutation of the ids
// registered for the scope.
func (s *Store) SetOrder(scope Scope, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setOrderLocked(scope, ids)
}

func (s *Store) setOrderLocked(scope Scope, ids []string) error {
	registered := s.registeredLocked(scope)
	if !order.IsPermutation(registered, ids) {
		return model.Validationf("set_order", "%s: %v is not a permutation of %v", scope, ids, registered)
	}
	s.orders[scope] = slices.Clone(ids)
	return nil
}

// registeredLocked lists the ids that belong to scope, in current order.
func (s *Store) registeredLocked(scope Scope) []string {
	switch scope.Kind {
	case ScopeUserShelves:
		var ids []string
		for id, sh := range s.shelves {
			if sh.Owner == scope.Principal {
				ids = append(ids, string(id))
			}
		}
		return ids
	case ScopeItems:
		ids := make([]string, 0, len(s.items[scope.Shelf]))
		for id := range s.items[scope.Shelf] {
			ids = append(ids, id.String())
		}
		return ids
	case ScopeSlots:
		ids := make([]string, 0, len(s.slots[scope.Shelf]))
		for id := range s.slots[scope.Shelf] {
			ids = append(ids, id.String())
		}
		return ids
	}
	return nil
}

// Order returns a copy of the scope's order array. Unknown scopes are
// empty, never nil.
func (s *Store) Order(scope Scope) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.orders[scope]))
	copy(out, s.orders[scope])
	return out
}

// ApplyMove applies a reference-relative move to a scope's order and
// returns the resulting order. A moved item's position key is forgotten
// until the authority's snapshot is loaded again; the remaining keys keep
// their relative order, so they stay consistent with the new order.
func (s *Store) ApplyMove(scope Scope, cmd order.Command[string]) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := order.Apply(s.orders[scope], cmd)
	if err != nil {
		return nil, model.Validationf("apply_move", "%s: %v", scope, err)
	}
	if err := s.setOrderLocked(scope, next); err != nil {
		return nil, err
	}
	if scope.Kind == ScopeItems {
		if id, err := model.ParseItemID(cmd.ID); err == nil {
			shelf := s.shelves[scope.Shelf]
			if shelf.ItemPositions != nil {
				delete(shelf.ItemPositions, id)
				s.shelves[scope.Shelf] = shelf
			}
		}
	}
	return slices.Clone(next), nil
}

// RestoreOrder puts back a scope's order together with the position keys
// that were known for it. Keys for ids outside the scope are ignored.
func (s *Store) RestoreOrder(scope Scope, ids []string, positions map[model.ItemID]model.PositionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setOrderLocked(scope, ids); err != nil {
		return err
	}
	if scope.Kind != ScopeItems || len(positions) == 0 {
		return nil
	}
	shelf := s.shelves[scope.Shelf]
	if shelf.ItemPositions == nil {
		shelf.ItemPositions = make(map[model.ItemID]model.PositionKey, len(positions))
	}
	for id, key := range positions {
		if _, ok := s.items[scope.Shelf][id]; ok {
			shelf.ItemPositions[id] = key
		}
	}
	s.shelves[scope.Shelf] = shelf
	return nil
}

// ReplaceShelf installs a canonical snapshot: the shelf record, its items
// and slots, and both orders, in one step. The snapshot is rejected whole
// if it would introduce a containment cycle or repeats an id.
func (s *Store) ReplaceShelf(snap model.ShelfSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "replace_shelf"
	id := snap.Shelf.ID

	items := make(map[model.ItemID]model.Item, len(snap.Items))
	itemOrder := make([]string, 0, len(snap.Items))
	for _, it := range snap.Items {
		if _, dup := items[it.ID]; dup {
			return model.Validationf(op, "duplicate item %d on shelf %s", it.ID, id)
		}
		it.ShelfID = id
		items[it.ID] = it
		itemOrder = append(itemOrder, it.ID.String())
	}
	slots := make(map[model.SlotID]model.Slot, len(snap.Slots))
	slotOrder := make([]string, 0, len(snap.Slots))
	for _, sl := range snap.Slots {
		if _, dup := slots[sl.ID]; dup {
			return model.Validationf(op, "duplicate slot %d on shelf %s", sl.ID, id)
		}
		sl.ShelfID = id
		slots[sl.ID] = sl
		slotOrder = append(slotOrder, sl.ID.String())
	}

	// Swap containment edges, restoring the old ones if the new set loops.
	old := s.items[id]
	for _, it := range old {
		if it.Content.Kind == model.ContentShelf {
			s.graph.remove(id, it.Content.Shelf)
		}
	}
	var added []model.ShelfID
	for _, it := range snap.Items {
		if it.Content.Kind != model.ContentShelf {
			continue
		}
		if s.graph.wouldCycle(id, it.Content.Shelf) {
			for _, child := range added {
				s.graph.remove(id, child)
			}
			for _, prev := range old {
				if prev.Content.Kind == model.ContentShelf {
					s.graph.add(id, prev.Content.Shelf)
				}
			}
			return model.Validationf(op, "shelf %s cannot contain %s: containment cycle", id, it.Content.Shelf)
		}
		s.graph.add(id, it.Content.Shelf)
		added = append(added, it.Content.Shelf)
	}

	s.upsertShelfLocked(snap.Shelf.Clone())
	s.items[id] = items
	s.slots[id] = slots
	s.orders[ItemsScope(id)] = itemOrder
	s.orders[SlotsScope(id)] = slotOrder
	return nil
}

// Shelf returns a copy of the shelf record.
func (s *Store) Shelf(id model.ShelfID) (model.Shelf, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shelves[id]
	if !ok {
		return model.Shelf{}, false
	}
	return sh.Clone(), true
}

// Item returns one item of a shelf.
func (s *Store) Item(shelfID model.ShelfID, itemID model.ItemID) (model.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[shelfID][itemID]
	return it, ok
}

// Items returns a shelf's items in order.
func (s *Store) Items(shelfID model.ShelfID) []model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.orders[ItemsScope(shelfID)]
	out := make([]model.Item, 0, len(ids))
	for _, raw := range ids {
		id, err := model.ParseItemID(raw)
		if err != nil {
			continue
		}
		out = append(out, s.items[shelfID][id])
	}
	return out
}

// Slots returns a shelf's slots in order.
func (s *Store) Slots(shelfID model.ShelfID) []model.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.orders[SlotsScope(shelfID)]
	out := make([]model.Slot, 0, len(ids))
	for _, raw := range ids {
		id, err := model.ParseSlotID(raw)
		if err != nil {
			continue
		}
		out = append(out, s.slots[shelfID][id])
	}
	return out
}

// Snapshot assembles the stored view of a shelf in canonical shape.
func (s *Store) Snapshot(id model.ShelfID) (model.ShelfSnapshot, bool) {
	sh, ok := s.Shelf(id)
	if !ok {
		return model.ShelfSnapshot{}, false
	}
	return model.ShelfSnapshot{Shelf: sh, Items: s.Items(id), Slots: s.Slots(id)}, true
}

// ShelvesOf returns a principal's shelves in their stored order.
func (s *Store) ShelvesOf(p model.Principal) []model.Shelf {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.orders[UserShelvesScope(p)]
	out := make([]model.Shelf, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.shelves[model.ShelfID(id)].Clone())
	}
	return out
}

// CheckNoCycle reports a validation error if child may not be placed
// inside parent.
func (s *Store) CheckNoCycle(parent, child model.ShelfID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.graph.wouldCycle(parent, child) {
		return model.Validationf("add_item", "shelf %s cannot contain %s: containment cycle", parent, child)
	}
	return nil
}

// CheckPositions verifies that the shelf's known position keys are
// strictly increasing along its item order. Items whose key has not been
// learned yet are skipped. Shelves flagged for rebalance are skipped since
// their keys are allowed to be in flux.
func (s *Store) CheckPositions(id model.ShelfID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shelves[id]
	if !ok {
		return fmt.Errorf("check positions: unknown shelf %s", id)
	}
	if sh.NeedsRebalance {
		return nil
	}
	var (
		prev model.PositionKey
		seen bool
	)
	for _, raw := range s.orders[ItemsScope(id)] {
		itemID, err := model.ParseItemID(raw)
		if err != nil {
			return fmt.Errorf("check positions: %w", err)
		}
		key, ok := sh.ItemPositions[itemID]
		if !ok {
			continue
		}
		if seen && key <= prev {
			return fmt.Errorf("check positions: shelf %s key %q for item %d does not follow %q", id, key, itemID, prev)
		}
		prev, seen = key, true
	}
	return nil
}
