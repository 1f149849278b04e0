package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/roach88/perpetua/internal/model"
)

// Entry is one cached payload with its freshness window. Contains lists
// every shelf whose state the payload reflects; shelf invalidation uses it
// to find list entries that mention the shelf.
type Entry struct {
	Key       string          `json:"key"`
	Payload   []byte          `json:"payload"`
	Contains  []model.ShelfID `json:"contains,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
	StaleAt   time.Time       `json:"stale_at"`
}

// Mentions reports whether the entry reflects shelf id.
func (e Entry) Mentions(id model.ShelfID) bool {
	return slices.Contains(e.Contains, id)
}

func (e Entry) clone() Entry {
	e.Payload = slices.Clone(e.Payload)
	e.Contains = slices.Clone(e.Contains)
	return e
}

// Backend stores entries by canonical key string.
type Backend interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, e Entry) error
	Delete(ctx context.Context, keys ...string) error
	Entries(ctx context.Context) ([]Entry, error)
}

// MemoryBackend keeps entries in a map.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

func (b *MemoryBackend) Load(_ context.Context, key string) (Entry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return e.clone(), true, nil
}

func (b *MemoryBackend) Store(_ context.Context, e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[e.Key] = e.clone()
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.entries, k)
	}
	return nil
}

func (b *MemoryBackend) Entries(_ context.Context) ([]Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.clone())
	}
	return out, nil
}

var _ Backend = (*MemoryBackend)(nil)
