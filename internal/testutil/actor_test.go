package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/perpetua/internal/gateway"
	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/store"
)

func newLedgerActor(t *testing.T) *ScriptedActor {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewScriptedActor(s.ActorFor("alice"))
}

func TestScriptedActor_LogsCalls(t *testing.T) {
	ctx := context.Background()
	a := newLedgerActor(t)

	id, err := a.CreateShelf(ctx, "Shelf", nil, nil)
	require.NoError(t, err)
	first, err := a.AddItemToShelf(ctx, id, model.AddItemRequest{Content: model.MarkdownContent("a")})
	require.NoError(t, err)
	second, err := a.AddItemToShelf(ctx, id, model.AddItemRequest{Content: model.MarkdownContent("b")})
	require.NoError(t, err)
	require.NoError(t, a.ReorderItem(ctx, id, second, &first, true))
	require.NoError(t, a.ReorderItem(ctx, id, second, nil, false))

	assert.Equal(t, []string{
		"create_shelf",
		"add_item_to_shelf S1",
		"add_item_to_shelf S1",
		"reorder_item S1 2 before 1",
		"reorder_item S1 2 tail",
	}, a.CallStrings())
	assert.Equal(t, 2, a.CountOp(gateway.OpMoveItem))
}

func TestScriptedActor_FailNextIsConsumedInOrder(t *testing.T) {
	ctx := context.Background()
	a := newLedgerActor(t)

	a.FailNext(gateway.OpCreateShelf, gateway.ErrUnavailable)
	a.FailNext(gateway.OpCreateShelf, gateway.Reject(gateway.TagForbidden, "no"))

	_, err := a.CreateShelf(ctx, "one", nil, nil)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	_, err = a.CreateShelf(ctx, "two", nil, nil)
	var rej *gateway.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, gateway.TagForbidden, rej.Tag)

	id, err := a.CreateShelf(ctx, "three", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ShelfID("S1"), id, "failed calls must not reach the ledger")
}

func TestScriptedActor_FailAlwaysUntilReset(t *testing.T) {
	ctx := context.Background()
	a := newLedgerActor(t)
	a.FailAlways(gateway.OpListShelves, gateway.ErrUnavailable)

	for i := 0; i < 3; i++ {
		_, err := a.ListShelves(ctx, "alice", model.Page{Limit: 5})
		assert.ErrorIs(t, err, gateway.ErrUnavailable)
	}

	a.Reset()
	_, err := a.ListShelves(ctx, "alice", model.Page{Limit: 5})
	assert.NoError(t, err)
	assert.Len(t, a.Calls(), 1)
}

func TestScriptedActor_HoldAndRelease(t *testing.T) {
	ctx := context.Background()
	a := newLedgerActor(t)
	gate := a.Hold(gateway.OpCreateShelf)

	done := make(chan error, 1)
	go func() {
		_, err := a.CreateShelf(ctx, "held", nil, nil)
		done <- err
	}()

	select {
	case <-gate.Entered():
	case <-time.After(5 * time.Second):
		t.Fatal("call never reached the gate")
	}

	select {
	case <-done:
		t.Fatal("call completed while held")
	default:
	}

	gate.Release()
	gate.Release()
	require.NoError(t, <-done)
}

func TestScriptedActor_HoldHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := newLedgerActor(t)
	gate := a.Hold(gateway.OpGetShelf)

	done := make(chan error, 1)
	go func() {
		_, err := a.GetShelf(ctx, "S1")
		done <- err
	}()
	<-gate.Entered()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestScriptedActor_BeforeHook(t *testing.T) {
	ctx := context.Background()
	a := newLedgerActor(t)

	ran := 0
	a.Before(gateway.OpGetShelf, func(context.Context) { ran++ })
	_, _ = a.GetShelf(ctx, "S404")
	assert.Equal(t, 1, ran)
}
