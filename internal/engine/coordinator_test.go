package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/perpetua/internal/cache"
	"github.com/roach88/perpetua/internal/gateway"
	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/normstore"
	"github.com/roach88/perpetua/internal/order"
	"github.com/roach88/perpetua/internal/store"
	"github.com/roach88/perpetua/internal/testutil"
)

type rig struct {
	ledger *store.Store
	actor  *testutil.ScriptedActor
	cache  *cache.Manager
	eng    *Engine

	mu      sync.Mutex
	notices []Notice
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	return newRigWithCache(t, nil, opts...)
}

func newRigWithCache(t *testing.T, copts []cache.Option, opts ...Option) *rig {
	t.Helper()
	ledger, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	r := &rig{
		ledger: ledger,
		actor:  testutil.NewScriptedActor(ledger.ActorFor("alice")),
		cache:  cache.New(append([]cache.Option{cache.WithScheduler(func(f func()) { f() })}, copts...)...),
	}
	st := normstore.New()
	gw := gateway.New(r.actor, "alice", r.cache, gateway.WithPermissions(st))
	base := []Option{
		WithGestures(testutil.NewFixedGestureGenerator("g-test")),
		WithNotices(func(n Notice) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.notices = append(r.notices, n)
		}),
	}
	r.eng = New(gw, st, r.cache, append(base, opts...)...)
	return r
}

func (r *rig) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// shelfWith creates a shelf holding n markdown items, ids 1..n.
func (r *rig) shelfWith(t *testing.T, n int) model.ShelfID {
	t.Helper()
	ctx := context.Background()
	id, err := r.eng.CreateShelf(ctx, "Shelf", nil, nil)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := r.eng.AddItem(ctx, id, model.MarkdownContent("item "+strconv.Itoa(i)), nil, false)
		require.NoError(t, err)
	}
	r.actor.Reset()
	return id
}

func (r *rig) localItems(id model.ShelfID) []string {
	return r.eng.Store().Order(normstore.ItemsScope(id))
}

func (r *rig) ledgerItems(t *testing.T, id model.ShelfID) []string {
	t.Helper()
	snap, err := r.ledger.ActorFor("alice").GetShelf(context.Background(), id)
	require.NoError(t, err)
	out := []string{}
	for _, it := range snap.Items {
		out = append(out, it.ID.String())
	}
	return out
}

// bobsPublicShelf creates a public shelf owned by bob holding n items and
// loads it into alice's engine.
func bobsPublicShelf(t *testing.T, r *rig, n int) model.ShelfID {
	t.Helper()
	ctx := context.Background()
	bob := r.ledger.ActorFor("bob")
	id, err := bob.CreateShelf(ctx, "Bob's", nil, nil)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := bob.AddItemToShelf(ctx, id, model.AddItemRequest{Content: model.MarkdownContent("b" + strconv.Itoa(i))})
		require.NoError(t, err)
	}
	require.NoError(t, r.ledger.SetVisibility(ctx, id, model.VisibilityPublic))
	_, err = r.eng.LoadShelf(ctx, id)
	require.NoError(t, err)
	r.actor.Reset()
	return id
}

func drag(t *testing.T, c *Coordinator, shelf model.ShelfID, dim model.Dimension, from, to int) (Outcome, error) {
	t.Helper()
	require.NoError(t, c.BeginDrag(shelf, dim))
	return c.Drop(context.Background(), shelf, dim, from, to)
}

func TestDrop_ToHeadUsesFollowingItemAsReference(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)
	c := r.eng.Coordinator()

	out, err := drag(t, c, id, model.DimensionItems, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, Committed, out)

	assert.Equal(t, []string{"reorder_item S1 3 before 1"}, r.actor.CallStrings())
	assert.Equal(t, []string{"3", "1", "2"}, r.localItems(id))
	assert.Equal(t, []string{"3", "1", "2"}, r.ledgerItems(t, id))
	assert.Equal(t, Idle, c.State(id, model.DimensionItems))
	assert.Empty(t, r.Notices())
}

func TestDrop_ElsewhereUsesPrecedingItemAsReference(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)
	c := r.eng.Coordinator()

	out, err := drag(t, c, id, model.DimensionItems, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, Committed, out)
	assert.Equal(t, []string{"reorder_item S1 1 after 2"}, r.actor.CallStrings())
	assert.Equal(t, []string{"2", "1", "3"}, r.localItems(id))

	out, err = drag(t, c, id, model.DimensionItems, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, Committed, out)
	assert.Equal(t, "reorder_item S1 2 after 3", r.actor.CallStrings()[1])
	assert.Equal(t, []string{"1", "3", "2"}, r.localItems(id))
	assert.Equal(t, r.localItems(id), r.ledgerItems(t, id))
}

func TestDrop_SameIndexIsNoOp(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)

	out, err := drag(t, r.eng.Coordinator(), id, model.DimensionItems, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, NoOp, out)
	assert.Empty(t, r.actor.Calls())
	assert.Equal(t, Idle, r.eng.Coordinator().State(id, model.DimensionItems))
}

func TestDrop_OutOfRange(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 2)

	_, err := drag(t, r.eng.Coordinator(), id, model.DimensionItems, 0, 5)
	assert.True(t, model.IsValidation(err))
	assert.Empty(t, r.actor.Calls())
	assert.Equal(t, Idle, r.eng.Coordinator().State(id, model.DimensionItems))
}

func TestDrop_ConflictReloadsCanonicalOrder(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)
	r.actor.FailNext(gateway.OpMoveItem, gateway.Reject(gateway.TagItemNotFound, "gone"))

	out, err := drag(t, r.eng.Coordinator(), id, model.DimensionItems, 2, 0)
	assert.Equal(t, Reverted, out)
	assert.True(t, model.IsConflict(err))

	assert.Equal(t, []string{"1", "2", "3"}, r.localItems(id))
	assert.Equal(t, 1, r.actor.CountOp(gateway.OpMoveItem), "no automatic retry")
	assert.Equal(t, 1, r.actor.CountOp(gateway.OpGetShelf), "exactly one reload")
	require.Len(t, r.Notices(), 1)
	assert.Equal(t, model.KindConflict, r.Notices()[0].Kind)
	assert.Equal(t, id, r.Notices()[0].Shelf)
}

func TestDrop_ReloadFailureRestoresPreviousOrder(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)
	r.actor.FailNext(gateway.OpMoveItem, gateway.ErrUnavailable)
	r.actor.FailNext(gateway.OpGetShelf, gateway.ErrUnavailable)

	out, err := drag(t, r.eng.Coordinator(), id, model.DimensionItems, 0, 2)
	assert.Equal(t, Reverted, out)
	assert.True(t, model.IsTransient(err))
	assert.Equal(t, []string{"1", "2", "3"}, r.localItems(id))
	assert.Len(t, r.Notices(), 1)
}

func TestDrop_InvalidatesShelfCache(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.shelfWith(t, 3)

	_, status, err := r.eng.ShelfView(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cache.Fresh, status, "the reload after the last add fills the cache")

	_, err = drag(t, r.eng.Coordinator(), id, model.DimensionItems, 2, 0)
	require.NoError(t, err)

	snap, status, err := r.eng.ShelfView(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cache.Miss, status)
	assert.Equal(t, model.ItemID(3), snap.Items[0].ID)
}

func TestSecondGestureRejectedWhilePending(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)
	other := r.shelfWith(t, 2)
	c := r.eng.Coordinator()

	gate := r.actor.Hold(gateway.OpMoveItem)
	require.NoError(t, c.BeginDrag(id, model.DimensionItems))

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := c.Drop(context.Background(), id, model.DimensionItems, 2, 0)
		done <- result{out, err}
	}()

	select {
	case <-gate.Entered():
	case <-time.After(5 * time.Second):
		t.Fatal("move never reached the authority")
	}
	assert.Equal(t, PendingConfirm, c.State(id, model.DimensionItems))
	assert.Equal(t, []string{"3", "1", "2"}, r.localItems(id), "optimistic order visible while pending")

	assert.ErrorIs(t, c.BeginDrag(id, model.DimensionItems), ErrReorderInFlight)
	one := "1"
	_, err := c.MoveRelative(context.Background(), id, model.DimensionItems, order.Command[string]{ID: "2", Ref: &one, Before: true})
	assert.ErrorIs(t, err, ErrReorderInFlight)
	_, err = c.Reorder(context.Background(), id, model.DimensionItems, []string{"1", "2", "3"})
	assert.ErrorIs(t, err, ErrReorderInFlight)

	// other scopes are independent
	require.NoError(t, c.BeginDrag(id, model.DimensionSlots))
	require.NoError(t, c.CancelDrag(id, model.DimensionSlots))
	require.NoError(t, c.BeginDrag(other, model.DimensionItems))
	require.NoError(t, c.CancelDrag(other, model.DimensionItems))

	gate.Release()
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, Committed, res.out)
	assert.Equal(t, Idle, c.State(id, model.DimensionItems))
	assert.Equal(t, 1, r.actor.CountOp(gateway.OpMoveItem))
}

func TestDrop_CallerCancellationDoesNotAbortConfirm(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)
	c := r.eng.Coordinator()
	gate := r.actor.Hold(gateway.OpMoveItem)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.BeginDrag(id, model.DimensionItems))
	done := make(chan Outcome, 1)
	go func() {
		out, _ := c.Drop(ctx, id, model.DimensionItems, 2, 0)
		done <- out
	}()

	<-gate.Entered()
	cancel()
	gate.Release()

	assert.Equal(t, Committed, <-done)
	assert.Equal(t, []string{"3", "1", "2"}, r.ledgerItems(t, id))
}

func TestUnstableShelfDefersDrop(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.shelfWith(t, 3)
	require.NoError(t, r.ledger.MarkRebalance(ctx, id))
	_, err := r.eng.LoadShelf(ctx, id)
	require.NoError(t, err)
	require.True(t, r.eng.Rebalance().Unstable(id))
	r.actor.Reset()

	out, err := drag(t, r.eng.Coordinator(), id, model.DimensionItems, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, Deferred, out)

	assert.Zero(t, r.actor.CountOp(gateway.OpMoveItem), "no move while rebalancing")
	assert.Equal(t, 1, r.actor.CountOp(gateway.OpGetShelf), "one forced reload")
	assert.Equal(t, []string{"1", "2", "3"}, r.localItems(id))
	assert.Len(t, r.Notices(), 1)
}

func TestUnstableShelfDefersDrop_StoreUntouched(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.shelfWith(t, 3)
	require.NoError(t, r.ledger.MarkRebalance(ctx, id))
	_, err := r.eng.LoadShelf(ctx, id)
	require.NoError(t, err)
	before, _ := r.eng.Store().Shelf(id)
	r.actor.Reset()

	// with the reload failing, whatever the drop did to the store stays visible
	r.actor.FailNext(gateway.OpGetShelf, gateway.ErrUnavailable)
	c := r.eng.Coordinator()
	require.NoError(t, c.BeginDrag(id, model.DimensionItems))
	out, err := c.Drop(ctx, id, model.DimensionItems, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, Deferred, out)

	after, _ := r.eng.Store().Shelf(id)
	assert.Equal(t, []string{"1", "2", "3"}, r.localItems(id))
	assert.Equal(t, before.ItemPositions, after.ItemPositions)
	assert.Equal(t, []string{"get_shelf S1"}, r.actor.CallStrings())
	assert.Equal(t, Idle, c.State(id, model.DimensionItems))
}

func TestDrop_CommittedKeepsPositionsConsistent(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)
	require.NoError(t, r.eng.Store().CheckPositions(id))

	out, err := drag(t, r.eng.Coordinator(), id, model.DimensionItems, 2, 0)
	require.NoError(t, err)
	require.Equal(t, Committed, out)
	assert.Equal(t, []string{"reorder_item S1 3 before 1"}, r.actor.CallStrings(), "no reload on success")

	assert.Equal(t, []string{"3", "1", "2"}, r.localItems(id))
	assert.NoError(t, r.eng.Store().CheckPositions(id))

	sh, _ := r.eng.Store().Shelf(id)
	assert.NotContains(t, sh.ItemPositions, model.ItemID(3), "the authority's new key is not guessed")

	report, err := r.eng.Coordinator().Reorder(context.Background(), id, model.DimensionItems, []string{"2", "1", "3"})
	require.NoError(t, err)
	require.Equal(t, Committed, report.Outcome)
	assert.NoError(t, r.eng.Store().CheckPositions(id))
}

func TestDrop_ReloadFailureRestoresPositionKeys(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)
	before, _ := r.eng.Store().Shelf(id)
	r.actor.FailNext(gateway.OpMoveItem, gateway.Reject(gateway.TagPositionConflict, ""))
	r.actor.FailNext(gateway.OpGetShelf, gateway.ErrUnavailable)

	out, _ := drag(t, r.eng.Coordinator(), id, model.DimensionItems, 0, 2)
	assert.Equal(t, Reverted, out)

	after, _ := r.eng.Store().Shelf(id)
	assert.Equal(t, []string{"1", "2", "3"}, r.localItems(id))
	assert.Equal(t, before.ItemPositions, after.ItemPositions)
	assert.NoError(t, r.eng.Store().CheckPositions(id))
}

func TestGesturesRefusedLocallyWithoutEditRights(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := bobsPublicShelf(t, r, 3)
	c := r.eng.Coordinator()

	err := c.BeginDrag(id, model.DimensionItems)
	require.Error(t, err)
	assert.True(t, model.IsAuthorization(err))
	assert.Equal(t, Idle, c.State(id, model.DimensionItems))

	ref := "1"
	_, err = c.MoveRelative(ctx, id, model.DimensionItems, order.Command[string]{ID: "3", Ref: &ref, Before: true})
	assert.True(t, model.IsAuthorization(err))

	_, err = c.Reorder(ctx, id, model.DimensionSlots, []string{"3", "2", "1"})
	assert.True(t, model.IsAuthorization(err))

	assert.Empty(t, r.actor.Calls(), "no round-trip")
	assert.Empty(t, r.Notices())
	assert.Equal(t, []string{"1", "2", "3"}, r.localItems(id))
}

func TestRebalanceConflictMarksShelfUnstable(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.shelfWith(t, 3)
	rb := r.eng.Rebalance()
	require.False(t, rb.Unstable(id))

	// the authority starts rebalancing after our last read
	require.NoError(t, r.ledger.MarkRebalance(ctx, id))

	out, err := drag(t, r.eng.Coordinator(), id, model.DimensionItems, 2, 0)
	assert.Equal(t, Reverted, out)
	assert.True(t, model.IsConflict(err))
	assert.True(t, rb.Unstable(id))

	require.NoError(t, r.ledger.Rebalance(ctx, id))

	_, err = r.eng.LoadShelf(ctx, id)
	require.NoError(t, err)
	assert.True(t, rb.Unstable(id), "counter moved since the previous read")

	_, err = r.eng.LoadShelf(ctx, id)
	require.NoError(t, err)
	assert.False(t, rb.Unstable(id))

	out, err = drag(t, r.eng.Coordinator(), id, model.DimensionItems, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, Committed, out)

	_, err = r.eng.LoadShelf(ctx, id)
	require.NoError(t, err)
	assert.NoError(t, r.eng.Store().CheckPositions(id))
}

func TestIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.shelfWith(t, 2)
	c := r.eng.Coordinator()

	_, err := c.Drop(ctx, id, model.DimensionItems, 0, 1)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.ErrorIs(t, c.Hover(id, model.DimensionItems, 1), ErrIllegalTransition)
	assert.ErrorIs(t, c.CancelDrag(id, model.DimensionItems), ErrIllegalTransition)

	assert.ErrorIs(t, c.BeginDrag("S404", model.DimensionItems), ErrUnknownShelf)
	assert.True(t, model.IsValidation(c.BeginDrag(id, "columns")))

	require.NoError(t, c.BeginDrag(id, model.DimensionItems))
	assert.ErrorIs(t, c.BeginDrag(id, model.DimensionItems), ErrReorderInFlight)
	require.NoError(t, c.CancelDrag(id, model.DimensionItems))
	assert.Empty(t, r.actor.Calls())
}

func TestHoverAndSnapshot(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)
	c := r.eng.Coordinator()

	require.NoError(t, c.BeginDrag(id, model.DimensionItems))
	require.NoError(t, c.Hover(id, model.DimensionItems, 2))
	assert.Equal(t, []string{"1", "2", "3"}, r.localItems(id), "hover never mutates")

	assert.Equal(t, []ScopeStatus{{
		Shelf:     id,
		Dimension: model.DimensionItems,
		State:     "dragging",
		Gesture:   "g-test",
		Hover:     2,
	}}, c.Snapshot())

	require.NoError(t, c.CancelDrag(id, model.DimensionItems))
	assert.Empty(t, c.Snapshot())
}

func TestDrop_Slots(t *testing.T) {
	r := newRig(t)
	id := r.shelfWith(t, 3)
	c := r.eng.Coordinator()
	slots := r.eng.Store().Order(normstore.SlotsScope(id))
	require.Equal(t, []string{"1", "2", "3"}, slots)

	out, err := drag(t, c, id, model.DimensionSlots, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, Committed, out)
	assert.Equal(t, []string{"reorder_slot S1 3 before 1"}, r.actor.CallStrings())
	assert.Equal(t, []string{"3", "1", "2"}, r.eng.Store().Order(normstore.SlotsScope(id)))
	assert.Equal(t, []string{"1", "2", "3"}, r.localItems(id), "item order untouched")
}

func TestMoveRelative(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.shelfWith(t, 3)
	c := r.eng.Coordinator()

	one := "1"
	out, err := c.MoveRelative(ctx, id, model.DimensionItems, order.Command[string]{ID: "3", Ref: &one, Before: true})
	require.NoError(t, err)
	assert.Equal(t, Committed, out)
	assert.Equal(t, []string{"3", "1", "2"}, r.localItems(id))

	out, err = c.MoveRelative(ctx, id, model.DimensionItems, order.Command[string]{ID: "3", Before: true})
	require.NoError(t, err)
	assert.Equal(t, NoOp, out, "already at the head")

	_, err = c.MoveRelative(ctx, id, model.DimensionItems, order.Command[string]{ID: "9"})
	assert.True(t, model.IsValidation(err))
	assert.Equal(t, 1, r.actor.CountOp(gateway.OpMoveItem))
}

func TestReorder_MinimalMoves(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.shelfWith(t, 5)
	c := r.eng.Coordinator()

	report, err := c.Reorder(ctx, id, model.DimensionItems, []string{"5", "1", "2", "3", "4"})
	require.NoError(t, err)
	assert.Equal(t, ReorderReport{Planned: 1, Applied: 1, Outcome: Committed}, report)
	assert.Equal(t, []string{"reorder_item S1 5 before 1"}, r.actor.CallStrings())

	target := []string{"4", "3", "2", "1", "5"}
	report, err = c.Reorder(ctx, id, model.DimensionItems, target)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Planned, "only one element can stay in place")
	assert.Equal(t, 4, report.Applied)
	assert.Equal(t, target, r.localItems(id))
	assert.Equal(t, target, r.ledgerItems(t, id))
	assert.Equal(t, Idle, c.State(id, model.DimensionItems))

	report, err = c.Reorder(ctx, id, model.DimensionItems, target)
	require.NoError(t, err)
	assert.Equal(t, ReorderReport{Outcome: NoOp}, report)
}

func TestReorder_Validation(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, WithMaxMoves(1))
	id := r.shelfWith(t, 3)
	c := r.eng.Coordinator()

	_, err := c.Reorder(ctx, id, model.DimensionItems, []string{"1", "2"})
	assert.True(t, model.IsValidation(err))

	_, err = c.Reorder(ctx, id, model.DimensionItems, []string{"3", "2", "1"})
	require.Error(t, err)
	assert.True(t, IsMoveLimitError(err))
	var limit *MoveLimitError
	require.True(t, errors.As(err, &limit))
	assert.Equal(t, 2, limit.Moves)
	assert.Empty(t, r.actor.Calls())
	assert.Equal(t, []string{"1", "2", "3"}, r.localItems(id))
}

func TestReorder_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.shelfWith(t, 4)
	c := r.eng.Coordinator()

	calls := 0
	r.actor.Before(gateway.OpMoveItem, func(context.Context) {
		calls++
		if calls == 2 {
			r.actor.FailNext(gateway.OpMoveItem, gateway.Reject(gateway.TagPositionConflict, ""))
		}
	})

	report, err := c.Reorder(ctx, id, model.DimensionItems, []string{"4", "3", "2", "1"})
	assert.True(t, model.IsConflict(err))
	assert.Equal(t, 3, report.Planned)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, Reverted, report.Outcome)
	assert.Equal(t, 2, r.actor.CountOp(gateway.OpMoveItem))
	assert.Equal(t, r.ledgerItems(t, id), r.localItems(id), "left in reloaded canonical state")
	assert.Equal(t, Idle, c.State(id, model.DimensionItems))
}

func TestShelvesRunConcurrently(t *testing.T) {
	r := newRig(t)
	a := r.shelfWith(t, 3)
	b := r.shelfWith(t, 3)
	c := r.eng.Coordinator()

	gate := r.actor.Hold(gateway.OpMoveItem)
	require.NoError(t, c.BeginDrag(a, model.DimensionItems))
	doneA := make(chan Outcome, 1)
	go func() {
		out, _ := c.Drop(context.Background(), a, model.DimensionItems, 2, 0)
		doneA <- out
	}()
	<-gate.Entered()

	// b proceeds while a is held
	out, err := drag(t, c, b, model.DimensionItems, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, Committed, out)

	gate.Release()
	assert.Equal(t, Committed, <-doneA)
}
