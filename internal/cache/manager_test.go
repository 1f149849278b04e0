package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/perpetua/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func inline(f func()) { f() }

func setupManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(WithClock(clock.Now), WithTTL(time.Minute), WithScheduler(inline)), clock
}

func TestKeyString(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{PrincipalKey("alice"), "principal/alice"},
		{ShelfKey("S1"), "shelf/S1"},
		{PageKey("alice", "c/1", 20), "page/alice/c%2F1/20"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.key.String())
		parsed, err := ParseKey(tt.want)
		require.NoError(t, err)
		assert.Equal(t, tt.key, parsed)
	}

	_, err := ParseKey("bogus")
	assert.Error(t, err)
	_, err = ParseKey("page/alice/c/x")
	assert.Error(t, err)
}

func TestGetPut_Freshness(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t)

	_, status, err := m.Get(ctx, ShelfKey("S1"))
	require.NoError(t, err)
	assert.Equal(t, Miss, status)

	e, err := m.Put(ctx, ShelfKey("S1"), []byte(`{"id":"S1"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ShelfID{"S1"}, e.Contains)

	got, status, err := m.Get(ctx, ShelfKey("S1"))
	require.NoError(t, err)
	assert.Equal(t, Fresh, status)
	assert.Equal(t, []byte(`{"id":"S1"}`), got.Payload)

	clock.Advance(time.Minute)
	_, status, err = m.Get(ctx, ShelfKey("S1"))
	require.NoError(t, err)
	assert.Equal(t, Stale, status)
}

func TestFetch_StaleWhileRevalidate(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t)

	calls := 0
	load := func(context.Context) ([]byte, []model.ShelfID, error) {
		calls++
		return []byte{byte('0' + calls)}, nil, nil
	}

	e, status, err := m.Fetch(ctx, ShelfKey("S1"), load)
	require.NoError(t, err)
	assert.Equal(t, Miss, status)
	assert.Equal(t, []byte("1"), e.Payload)

	e, status, err = m.Fetch(ctx, ShelfKey("S1"), load)
	require.NoError(t, err)
	assert.Equal(t, Fresh, status)
	assert.Equal(t, 1, calls)

	clock.Advance(2 * time.Minute)
	e, status, err = m.Fetch(ctx, ShelfKey("S1"), load)
	require.NoError(t, err)
	assert.Equal(t, Stale, status)
	assert.Equal(t, []byte("1"), e.Payload, "stale value served immediately")
	assert.Equal(t, 2, calls, "revalidation ran in the background")

	e, status, err = m.Fetch(ctx, ShelfKey("S1"), load)
	require.NoError(t, err)
	assert.Equal(t, Fresh, status)
	assert.Equal(t, []byte("2"), e.Payload)
}

func TestFetch_DeduplicatesRevalidation(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	var pending []func()
	m := New(WithClock(clock.Now), WithTTL(time.Second), WithScheduler(func(f func()) { pending = append(pending, f) }))

	_, err := m.Put(ctx, ShelfKey("S1"), []byte("old"), nil)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	load := func(context.Context) ([]byte, []model.ShelfID, error) { return []byte("new"), nil, nil }
	for i := 0; i < 3; i++ {
		_, status, err := m.Fetch(ctx, ShelfKey("S1"), load)
		require.NoError(t, err)
		assert.Equal(t, Stale, status)
	}
	require.Len(t, pending, 1)

	pending[0]()
	e, status, err := m.Get(ctx, ShelfKey("S1"))
	require.NoError(t, err)
	assert.Equal(t, Fresh, status)
	assert.Equal(t, []byte("new"), e.Payload)
}

func TestFetch_InvalidationDuringRevalidationWins(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	var pending []func()
	m := New(WithClock(clock.Now), WithTTL(time.Second), WithScheduler(func(f func()) { pending = append(pending, f) }))

	_, err := m.Put(ctx, ShelfKey("S1"), []byte("old"), nil)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	_, _, err = m.Fetch(ctx, ShelfKey("S1"), func(context.Context) ([]byte, []model.ShelfID, error) {
		return []byte("pre-mutation"), nil, nil
	})
	require.NoError(t, err)
	_, err = m.InvalidateForShelf(ctx, "S1")
	require.NoError(t, err)

	require.Len(t, pending, 1)
	pending[0]()
	_, status, err := m.Get(ctx, ShelfKey("S1"))
	require.NoError(t, err)
	assert.Equal(t, Miss, status, "a refresh started before the invalidation must not repopulate")
}

func TestFetch_LoadError(t *testing.T) {
	m, _ := setupManager(t)
	boom := errors.New("boom")
	_, _, err := m.Fetch(context.Background(), ShelfKey("S1"), func(context.Context) ([]byte, []model.ShelfID, error) {
		return nil, nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func seed(t *testing.T, m *Manager) map[string][]byte {
	t.Helper()
	ctx := context.Background()
	puts := []struct {
		key      Key
		payload  string
		contains []model.ShelfID
	}{
		{PrincipalKey("alice"), "alice-all", []model.ShelfID{"S1", "S2"}},
		{PageKey("alice", "0", 1), "alice-p0", []model.ShelfID{"S1"}},
		{PageKey("alice", "1", 1), "alice-p1", []model.ShelfID{"S2"}},
		{PrincipalKey("bob"), "bob-all", []model.ShelfID{"S3", "S1"}},
		{PageKey("bob", "0", 10), "bob-p0", []model.ShelfID{"S3"}},
		{ShelfKey("S1"), "s1", nil},
		{ShelfKey("S2"), "s2", nil},
		{ShelfKey("S3"), "s3", nil},
	}
	out := make(map[string][]byte)
	for _, p := range puts {
		_, err := m.Put(ctx, p.key, []byte(p.payload), p.contains)
		require.NoError(t, err)
		out[p.key.String()] = []byte(p.payload)
	}
	return out
}

func remaining(t *testing.T, m *Manager) map[string][]byte {
	t.Helper()
	entries, err := m.backend.Entries(context.Background())
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, e := range entries {
		out[e.Key] = e.Payload
	}
	return out
}

func TestInvalidateForPrincipal_IsPrecise(t *testing.T) {
	m, _ := setupManager(t)
	before := seed(t, m)

	n, err := m.InvalidateForPrincipal(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	after := remaining(t, m)
	for _, k := range []string{"principal/alice", "page/alice/0/1", "page/alice/1/1"} {
		assert.NotContains(t, after, k)
	}
	for _, k := range []string{"principal/bob", "page/bob/0/10", "shelf/S1", "shelf/S2", "shelf/S3"} {
		assert.Equal(t, before[k], after[k], "%s must be untouched", k)
	}
}

func TestInvalidateForShelf_IsPrecise(t *testing.T) {
	m, _ := setupManager(t)
	before := seed(t, m)

	n, err := m.InvalidateForShelf(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	after := remaining(t, m)
	for _, k := range []string{"shelf/S1", "principal/alice", "page/alice/0/1", "principal/bob"} {
		assert.NotContains(t, after, k)
	}
	for _, k := range []string{"page/alice/1/1", "page/bob/0/10", "shelf/S2", "shelf/S3"} {
		assert.Equal(t, before[k], after[k], "%s must be untouched", k)
	}
}

func TestInvalidate_EmptyCache(t *testing.T) {
	m, _ := setupManager(t)
	n, err := m.InvalidateForShelf(context.Background(), "S9")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = m.InvalidateForPrincipal(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryBackend_CopiesPayload(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	payload := []byte("abc")
	require.NoError(t, b.Store(ctx, Entry{Key: "k", Payload: payload}))
	payload[0] = 'x'

	e, ok, err := b.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), e.Payload)
}
