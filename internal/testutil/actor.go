package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/perpetua/internal/gateway"
	"github.com/roach88/perpetua/internal/model"
)

// ActorCall is one call observed by a ScriptedActor.
type ActorCall struct {
	Op     string
	Shelf  model.ShelfID
	Target uint64
	Ref    *uint64
	Before bool
}

// String renders a call as "op shelf target before|after ref", with
// "head" or "tail" standing in for a missing ref.
func (c ActorCall) String() string {
	switch c.Op {
	case gateway.OpMoveItem, gateway.OpMoveSlot:
		where := "after"
		if c.Before {
			where = "before"
		}
		if c.Ref == nil {
			if c.Before {
				return fmt.Sprintf("%s %s %d head", c.Op, c.Shelf, c.Target)
			}
			return fmt.Sprintf("%s %s %d tail", c.Op, c.Shelf, c.Target)
		}
		return fmt.Sprintf("%s %s %d %s %d", c.Op, c.Shelf, c.Target, where, *c.Ref)
	case gateway.OpRemoveItem:
		return fmt.Sprintf("%s %s %d", c.Op, c.Shelf, c.Target)
	case gateway.OpCreateShelf:
		return c.Op
	default:
		return fmt.Sprintf("%s %s", c.Op, c.Shelf)
	}
}

// Gate holds one call to an operation until released.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered is closed once the held call has reached the actor.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release lets the held call proceed. Safe to call more than once.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

// ScriptedActor wraps a real actor with scripted faults, gates that hold
// calls in flight, and a log of every call made.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedActor struct {
	inner gateway.Actor

	mu     sync.Mutex
	calls  []ActorCall
	once   map[string][]error
	always map[string]error
	gates  map[string][]*Gate
	before map[string]func(context.Context)
}

var _ gateway.Actor = (*ScriptedActor)(nil)

// NewScriptedActor wraps inner, which must not be nil.
func NewScriptedActor(inner gateway.Actor) *ScriptedActor {
	return &ScriptedActor{
		inner:  inner,
		once:   map[string][]error{},
		always: map[string]error{},
		gates:  map[string][]*Gate{},
		before: map[string]func(context.Context){},
	}
}

// FailNext makes the next call to op return err without reaching the
// inner actor. Calls queue up in order.
func (a *ScriptedActor) FailNext(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.once[op] = append(a.once[op], err)
}

// FailAlways makes every call to op return err until Reset.
func (a *ScriptedActor) FailAlways(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.always[op] = err
}

// Hold returns a gate that blocks the next call to op.
func (a *ScriptedActor) Hold(op string) *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gates[op] = append(a.gates[op], g)
	return g
}

// Before runs fn ahead of every call to op, e.g. to change authority
// state underneath a client.
func (a *ScriptedActor) Before(op string, fn func(context.Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.before[op] = fn
}

// Reset clears faults, hooks and the call log. Held gates stay held.
func (a *ScriptedActor) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
	a.once = map[string][]error{}
	a.always = map[string]error{}
	a.before = map[string]func(context.Context){}
}

// Calls returns a copy of the call log.
func (a *ScriptedActor) Calls() []ActorCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ActorCall(nil), a.calls...)
}

// CallStrings returns the call log rendered with ActorCall.String.
func (a *ScriptedActor) CallStrings() []string {
	calls := a.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// CountOp reports how many calls to op were made.
func (a *ScriptedActor) CountOp(op string) int {
	n := 0
	for _, c := range a.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// enter logs the call, waits on any gate and returns the scripted fault.
func (a *ScriptedActor) enter(ctx context.Context, c ActorCall) error {
	a.mu.Lock()
	a.calls = append(a.calls, c)
	var gate *Gate
	if gs := a.gates[c.Op]; len(gs) > 0 {
		gate, a.gates[c.Op] = gs[0], gs[1:]
	}
	hook := a.before[c.Op]
	a.mu.Unlock()

	if gate != nil {
		close(gate.entered)
		select {
		case <-gate.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if hook != nil {
		hook(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if errs := a.once[c.Op]; len(errs) > 0 {
		a.once[c.Op] = errs[1:]
		return errs[0]
	}
	return a.always[c.Op]
}

func refOf[T ~uint64](ref *T) *uint64 {
	if ref == nil {
		return nil
	}
	v := uint64(*ref)
	return &v
}

func (a *ScriptedActor) CreateShelf(ctx context.Context, title string, description *string, tags []string) (model.ShelfID, error) {
	if err := a.enter(ctx, ActorCall{Op: gateway.OpCreateShelf}); err != nil {
		return "", err
	}
	return a.inner.CreateShelf(ctx, title, description, tags)
}

func (a *ScriptedActor) UpdateShelfMetadata(ctx context.Context, id model.ShelfID, title, description *string) error {
	if err := a.enter(ctx, ActorCall{Op: gateway.OpUpdateMetadata, Shelf: id}); err != nil {
		return err
	}
	return a.inner.UpdateShelfMetadata(ctx, id, title, description)
}

func (a *ScriptedActor) AddItemToShelf(ctx context.Context, id model.ShelfID, req model.AddItemRequest) (model.ItemID, error) {
	c := ActorCall{Op: gateway.OpAddItem, Shelf: id, Ref: refOf(req.ReferenceItemID), Before: req.Before}
	if err := a.enter(ctx, c); err != nil {
		return 0, err
	}
	return a.inner.AddItemToShelf(ctx, id, req)
}

func (a *ScriptedActor) RemoveItem(ctx context.Context, id model.ShelfID, item model.ItemID) error {
	if err := a.enter(ctx, ActorCall{Op: gateway.OpRemoveItem, Shelf: id, Target: uint64(item)}); err != nil {
		return err
	}
	return a.inner.RemoveItem(ctx, id, item)
}

func (a *ScriptedActor) ReorderItem(ctx context.Context, id model.ShelfID, item model.ItemID, ref *model.ItemID, before bool) error {
	c := ActorCall{Op: gateway.OpMoveItem, Shelf: id, Target: uint64(item), Ref: refOf(ref), Before: before}
	if err := a.enter(ctx, c); err != nil {
		return err
	}
	return a.inner.ReorderItem(ctx, id, item, ref, before)
}

func (a *ScriptedActor) ReorderSlot(ctx context.Context, id model.ShelfID, slot model.SlotID, ref *model.SlotID, before bool) error {
	c := ActorCall{Op: gateway.OpMoveSlot, Shelf: id, Target: uint64(slot), Ref: refOf(ref), Before: before}
	if err := a.enter(ctx, c); err != nil {
		return err
	}
	return a.inner.ReorderSlot(ctx, id, slot, ref, before)
}

func (a *ScriptedActor) GetShelf(ctx context.Context, id model.ShelfID) (model.ShelfSnapshot, error) {
	if err := a.enter(ctx, ActorCall{Op: gateway.OpGetShelf, Shelf: id}); err != nil {
		return model.ShelfSnapshot{}, err
	}
	return a.inner.GetShelf(ctx, id)
}

func (a *ScriptedActor) ListShelves(ctx context.Context, owner model.Principal, page model.Page) (model.ShelfPage, error) {
	if err := a.enter(ctx, ActorCall{Op: gateway.OpListShelves}); err != nil {
		return model.ShelfPage{}, err
	}
	return a.inner.ListShelves(ctx, owner, page)
}
