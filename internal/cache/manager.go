// Package cache holds fetched shelf payloads keyed by principal, shelf and
// pagination cursor, with stale-while-revalidate reads and invalidation
// that drops exactly the entries a mutation can have affected.
//
// Writes never go through the cache. The gateway performs them against the
// remote authority and then calls InvalidateForPrincipal or
// InvalidateForShelf.
package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/perpetua/internal/metrics"
	"github.com/roach88/perpetua/internal/model"
)

// DefaultTTL is how long an entry stays fresh.
const DefaultTTL = 30 * time.Second

// Status describes a lookup result.
type Status int

const (
	Miss Status = iota
	Fresh
	Stale
)

func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// Loader fetches a payload from the authority along with the shelves it
// reflects.
type Loader func(ctx context.Context) (payload []byte, contains []model.ShelfID, err error)

// Manager is the cache front end. It is safe for concurrent use.
type Manager struct {
	backend  Backend
	ttl      time.Duration
	now      func() time.Time
	schedule func(func())
	metrics  *metrics.Metrics
	logger   *slog.Logger

	group singleflight.Group

	mu         sync.Mutex
	generation map[string]uint64
	refreshing map[string]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackend replaces the default in-memory backend.
func WithBackend(b Backend) Option {
	return func(m *Manager) { m.backend = b }
}

// WithTTL sets the freshness horizon.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithScheduler sets how background revalidation runs. The default starts
// a goroutine; tests pass a function that runs inline.
func WithScheduler(schedule func(func())) Option {
	return func(m *Manager) { m.schedule = schedule }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New builds a Manager. Without options it caches in memory for
// DefaultTTL.
func New(opts ...Option) *Manager {
	m := &Manager{
		backend:    NewMemoryBackend(),
		ttl:        DefaultTTL,
		now:        time.Now,
		schedule:   func(f func()) { go f() },
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		generation: make(map[string]uint64),
		refreshing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get looks up key and classifies the entry by freshness.
func (m *Manager) Get(ctx context.Context, key Key) (Entry, Status, error) {
	e, ok, err := m.backend.Load(ctx, key.String())
	if err != nil {
		return Entry{}, Miss, err
	}
	status := Miss
	if ok {
		status = Fresh
		if !m.now().Before(e.StaleAt) {
			status = Stale
		}
	}
	m.metrics.CacheLookup(status.String())
	return e, status, nil
}

// Put stores payload under key, stamped with the current time. A shelf key
// always counts as containing its own shelf.
func (m *Manager) Put(ctx context.Context, key Key, payload []byte, contains []model.ShelfID) (Entry, error) {
	if key.Kind == KindShelf && !slices.Contains(contains, key.Shelf) {
		contains = append(slices.Clone(contains), key.Shelf)
	}
	now := m.now()
	e := Entry{
		Key:       key.String(),
		Payload:   slices.Clone(payload),
		Contains:  slices.Clone(contains),
		FetchedAt: now,
		StaleAt:   now.Add(m.ttl),
	}
	if err := m.backend.Store(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Fetch serves key stale-while-revalidate. A fresh entry is returned as
// is. A stale entry is returned immediately and one background refresh is
// scheduled. A miss loads inline; concurrent misses share one load.
func (m *Manager) Fetch(ctx context.Context, key Key, load Loader) (Entry, Status, error) {
	e, status, err := m.Get(ctx, key)
	if err != nil {
		m.logger.Warn("cache lookup failed, loading", "key", key.String(), "error", err)
		status = Miss
	}

	switch status {
	case Fresh:
		return e, Fresh, nil
	case Stale:
		m.revalidate(context.WithoutCancel(ctx), key, load)
		return e, Stale, nil
	}

	gen := m.currentGeneration(key)
	v, err, _ := m.group.Do(key.String(), func() (any, error) {
		return m.loadAndStore(ctx, key, gen, load)
	})
	if err != nil {
		return Entry{}, Miss, err
	}
	return v.(Entry), Miss, nil
}

func (m *Manager) revalidate(ctx context.Context, key Key, load Loader) {
	k := key.String()
	m.mu.Lock()
	if m.refreshing[k] {
		m.mu.Unlock()
		return
	}
	m.refreshing[k] = true
	gen := m.generation[k]
	m.mu.Unlock()

	m.schedule(func() {
		defer func() {
			m.mu.Lock()
			delete(m.refreshing, k)
			m.mu.Unlock()
		}()
		if _, err := m.loadAndStore(ctx, key, gen, load); err != nil {
			m.logger.Warn("background revalidation failed", "key", k, "error", err)
		}
	})
}

// loadAndStore runs load and stores the result unless the key was
// invalidated while the load was in flight; in that case the result is
// returned to the caller but not cached.
func (m *Manager) loadAndStore(ctx context.Context, key Key, gen uint64, load Loader) (Entry, error) {
	payload, contains, err := load(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("load %s: %w", key, err)
	}
	if m.currentGeneration(key) != gen {
		now := m.now()
		return Entry{Key: key.String(), Payload: payload, Contains: contains, FetchedAt: now, StaleAt: now}, nil
	}
	return m.Put(ctx, key, payload, contains)
}

func (m *Manager) currentGeneration(key Key) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation[key.String()]
}

func (m *Manager) drop(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	m.mu.Lock()
	for _, k := range keys {
		m.generation[k]++
	}
	m.mu.Unlock()
	return m.backend.Delete(ctx, keys...)
}

// InvalidateForPrincipal drops the principal's list entry and every page
// entry keyed on that principal. It returns the number of keys dropped.
func (m *Manager) InvalidateForPrincipal(ctx context.Context, p model.Principal) (int, error) {
	entries, err := m.backend.Entries(ctx)
	if err != nil {
		return 0, fmt.Errorf("invalidate principal %s: %w", p, err)
	}
	var keys []string
	for _, e := range entries {
		k, err := ParseKey(e.Key)
		if err != nil {
			continue
		}
		if (k.Kind == KindPrincipal || k.Kind == KindPage) && k.Principal == p {
			keys = append(keys, e.Key)
		}
	}
	n := len(keys)
	// bump the list key's generation even when nothing was cached
	keys = appendUnique(keys, PrincipalKey(p).String())
	if err := m.drop(ctx, keys); err != nil {
		return 0, fmt.Errorf("invalidate principal %s: %w", p, err)
	}
	m.metrics.Invalidated("principal", n)
	m.logger.Debug("cache invalidated", "principal", p, "entries", n)
	return n, nil
}

// InvalidateForShelf drops the shelf's entry and any list entry whose
// payload mentions the shelf. It returns the number of keys dropped.
func (m *Manager) InvalidateForShelf(ctx context.Context, id model.ShelfID) (int, error) {
	entries, err := m.backend.Entries(ctx)
	if err != nil {
		return 0, fmt.Errorf("invalidate shelf %s: %w", id, err)
	}
	own := ShelfKey(id).String()
	var keys []string
	for _, e := range entries {
		if e.Key == own || e.Mentions(id) {
			keys = append(keys, e.Key)
		}
	}
	n := len(keys)
	keys = appendUnique(keys, own)
	if err := m.drop(ctx, keys); err != nil {
		return 0, fmt.Errorf("invalidate shelf %s: %w", id, err)
	}
	m.metrics.Invalidated("shelf", n)
	m.logger.Debug("cache invalidated", "shelf", id, "entries", n)
	return n, nil
}

func appendUnique(keys []string, k string) []string {
	if slices.Contains(keys, k) {
		return keys
	}
	return append(keys, k)
}
