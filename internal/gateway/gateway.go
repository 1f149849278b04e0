// Package gateway is the only path to the remote authority. It turns every
// remote call into a Result, keeps the cache coherent after successful
// writes, and records each call and its outcome in the journal.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/perpetua/internal/cache"
	"github.com/roach88/perpetua/internal/metrics"
	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/record"
)

// Cache is the part of the cache manager the gateway drives.
type Cache interface {
	Put(ctx context.Context, key cache.Key, payload []byte, contains []model.ShelfID) (cache.Entry, error)
	InvalidateForPrincipal(ctx context.Context, p model.Principal) (int, error)
	InvalidateForShelf(ctx context.Context, id model.ShelfID) (int, error)
}

// ShelfLookup returns locally known shelf records for permission checks.
type ShelfLookup interface {
	Shelf(id model.ShelfID) (model.Shelf, bool)
}

// Journal persists calls and outcomes.
type Journal interface {
	WriteCall(ctx context.Context, c record.Call) error
	WriteOutcome(ctx context.Context, o record.Outcome) error
}

// Gateway wraps an Actor bound to one principal.
type Gateway struct {
	actor     Actor
	principal model.Principal
	cache     Cache
	shelves   ShelfLookup
	journal   Journal
	clock     *Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithPermissions enables the local edit-permission check against known
// shelf records.
func WithPermissions(l ShelfLookup) Option {
	return func(g *Gateway) { g.shelves = l }
}

func WithJournal(j Journal) Option {
	return func(g *Gateway) { g.journal = j }
}

// WithClock shares a sequence clock, e.g. one resumed from the journal.
func WithClock(c *Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New builds a Gateway. actor and c are required.
func New(actor Actor, principal model.Principal, c Cache, opts ...Option) *Gateway {
	if actor == nil {
		panic("gateway: nil actor")
	}
	if c == nil {
		panic("gateway: nil cache")
	}
	g := &Gateway{
		actor:     actor,
		principal: principal,
		cache:     c,
		clock:     NewClock(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Principal is the identity calls are made as.
func (g *Gateway) Principal() model.Principal {
	return g.principal
}

// Operation names used in journal records, metrics and errors.
const (
	OpCreateShelf    = "create_shelf"
	OpUpdateMetadata = "update_shelf_metadata"
	OpAddItem        = "add_item_to_shelf"
	OpRemoveItem     = "remove_item"
	OpMoveItem       = "reorder_item"
	OpMoveSlot       = "reorder_slot"
	OpGetShelf       = "get_shelf"
	OpListShelves    = "list_shelves"
)

func call[T any](ctx context.Context, g *Gateway, op string, shelf model.ShelfID, args record.Fields, fn func(context.Context) (T, error)) Result[T] {
	start := time.Now()
	callID, seq := g.recordCall(ctx, op, shelf, args)

	v, err := fn(ctx)
	if err != nil {
		merr := Classify(op, err)
		g.recordOutcome(ctx, callID, seq, string(merr.Kind), merr.Detail)
		g.metrics.ObserveCall(op, string(merr.Kind), time.Since(start))
		g.logger.Warn("remote call failed", "op", op, "shelf", shelf, "kind", merr.Kind, "detail", merr.Detail)
		return Fail[T](merr)
	}

	g.recordOutcome(ctx, callID, seq, record.OutcomeOK, "")
	g.metrics.ObserveCall(op, record.OutcomeOK, time.Since(start))
	g.logger.Debug("remote call ok", "op", op, "shelf", shelf, "seq", seq)
	return Ok(v)
}

func (g *Gateway) recordCall(ctx context.Context, op string, shelf model.ShelfID, args record.Fields) (string, int64) {
	seq := g.clock.Next()
	if g.journal == nil {
		return "", seq
	}
	gesture := GestureFrom(ctx)
	id, err := record.CallID(gesture, op, string(g.principal), args, seq)
	if err != nil {
		g.logger.Warn("journal: call id", "op", op, "error", err)
		return "", seq
	}
	c := record.Call{
		ID:        id,
		Gesture:   gesture,
		Op:        op,
		Principal: string(g.principal),
		Shelf:     string(shelf),
		Args:      args,
		Seq:       seq,
	}
	if err := g.journal.WriteCall(ctx, c); err != nil {
		g.logger.Warn("journal: write call", "op", op, "error", err)
		return "", seq
	}
	return id, seq
}

func (g *Gateway) recordOutcome(ctx context.Context, callID string, callSeq int64, kind, detail string) {
	if g.journal == nil || callID == "" {
		return
	}
	seq := g.clock.Next()
	id, err := record.OutcomeID(callID, kind, nil, seq)
	if err != nil {
		g.logger.Warn("journal: outcome id", "call", callID, "error", err)
		return
	}
	o := record.Outcome{ID: id, CallID: callID, Kind: kind, Detail: detail, Result: record.Fields{}, Seq: seq}
	if err := g.journal.WriteOutcome(ctx, o); err != nil {
		g.logger.Warn("journal: write outcome", "call", callID, "call_seq", callSeq, "error", err)
	}
}

// Authorize refuses edits to shelves the principal is known not to be
// able to edit, without contacting the authority. Shelves not known
// locally are left to the authority.
func (g *Gateway) Authorize(op string, id model.ShelfID) *model.Error {
	if g.shelves == nil {
		return nil
	}
	sh, ok := g.shelves.Shelf(id)
	if !ok || sh.CanEdit(g.principal) {
		return nil
	}
	g.metrics.ObserveCall(op, string(model.KindAuthorization), 0)
	return model.NewError(model.KindAuthorization, op, "principal "+string(g.principal)+" cannot edit shelf "+string(id))
}

func (g *Gateway) invalidateShelf(ctx context.Context, id model.ShelfID) {
	if _, err := g.cache.InvalidateForShelf(ctx, id); err != nil {
		g.logger.Warn("cache invalidation failed", "shelf", id, "error", err)
	}
}

// CreateShelf creates a shelf owned by the calling principal. On success
// the principal's list entries are invalidated exactly once.
func (g *Gateway) CreateShelf(ctx context.Context, title string, description *string, tags []string) Result[model.ShelfID] {
	args := record.Fields{"title": title, "tags": tags}
	if description != nil {
		args["description"] = *description
	}
	r := call(ctx, g, OpCreateShelf, "", args, func(ctx context.Context) (model.ShelfID, error) {
		return g.actor.CreateShelf(ctx, title, description, tags)
	})
	if r.IsOk() {
		if _, err := g.cache.InvalidateForPrincipal(ctx, g.principal); err != nil {
			g.logger.Warn("cache invalidation failed", "principal", g.principal, "error", err)
		}
	}
	return r
}

// UpdateShelfMetadata changes title and/or description.
func (g *Gateway) UpdateShelfMetadata(ctx context.Context, id model.ShelfID, title, description *string) Result[struct{}] {
	if err := g.Authorize(OpUpdateMetadata, id); err != nil {
		return Fail[struct{}](err)
	}
	args := record.Fields{"shelf": string(id)}
	if title != nil {
		args["title"] = *title
	}
	if description != nil {
		args["description"] = *description
	}
	r := call(ctx, g, OpUpdateMetadata, id, args, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.actor.UpdateShelfMetadata(ctx, id, title, description)
	})
	if r.IsOk() {
		g.invalidateShelf(ctx, id)
	}
	return r
}

// AddItem inserts an item, optionally relative to a reference item.
func (g *Gateway) AddItem(ctx context.Context, id model.ShelfID, req model.AddItemRequest) Result[model.ItemID] {
	if err := g.Authorize(OpAddItem, id); err != nil {
		return Fail[model.ItemID](err)
	}
	args := record.Fields{"shelf": string(id), "kind": string(req.Content.Kind), "before": req.Before}
	if req.ReferenceItemID != nil {
		args["ref"] = uint64(*req.ReferenceItemID)
	}
	r := call(ctx, g, OpAddItem, id, args, func(ctx context.Context) (model.ItemID, error) {
		return g.actor.AddItemToShelf(ctx, id, req)
	})
	if r.IsOk() {
		g.invalidateShelf(ctx, id)
	}
	return r
}

// RemoveItem deletes an item from a shelf.
func (g *Gateway) RemoveItem(ctx context.Context, id model.ShelfID, item model.ItemID) Result[struct{}] {
	if err := g.Authorize(OpRemoveItem, id); err != nil {
		return Fail[struct{}](err)
	}
	args := record.Fields{"shelf": string(id), "item": uint64(item)}
	r := call(ctx, g, OpRemoveItem, id, args, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.actor.RemoveItem(ctx, id, item)
	})
	if r.IsOk() {
		g.invalidateShelf(ctx, id)
	}
	return r
}

// MoveItem places item immediately before or after ref.
func (g *Gateway) MoveItem(ctx context.Context, id model.ShelfID, item model.ItemID, ref *model.ItemID, before bool) Result[struct{}] {
	if err := g.Authorize(OpMoveItem, id); err != nil {
		return Fail[struct{}](err)
	}
	args := record.Fields{"shelf": string(id), "item": uint64(item), "before": before}
	if ref != nil {
		args["ref"] = uint64(*ref)
	}
	r := call(ctx, g, OpMoveItem, id, args, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.actor.ReorderItem(ctx, id, item, ref, before)
	})
	if r.IsOk() {
		g.invalidateShelf(ctx, id)
	}
	return r
}

// MoveSlot places slot immediately before or after ref.
func (g *Gateway) MoveSlot(ctx context.Context, id model.ShelfID, slot model.SlotID, ref *model.SlotID, before bool) Result[struct{}] {
	if err := g.Authorize(OpMoveSlot, id); err != nil {
		return Fail[struct{}](err)
	}
	args := record.Fields{"shelf": string(id), "slot": uint64(slot), "before": before}
	if ref != nil {
		args["ref"] = uint64(*ref)
	}
	r := call(ctx, g, OpMoveSlot, id, args, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.actor.ReorderSlot(ctx, id, slot, ref, before)
	})
	if r.IsOk() {
		g.invalidateShelf(ctx, id)
	}
	return r
}

// GetShelf fetches the canonical snapshot and refreshes the shelf's cache
// entry.
func (g *Gateway) GetShelf(ctx context.Context, id model.ShelfID) Result[model.ShelfSnapshot] {
	r := g.FetchShelf(ctx, id)
	if r.IsOk() {
		g.put(ctx, cache.ShelfKey(id), r.Value, []model.ShelfID{id})
	}
	return r
}

// FetchShelf fetches the canonical snapshot without touching the cache.
// It is the loader for reads the cache manager stores itself.
func (g *Gateway) FetchShelf(ctx context.Context, id model.ShelfID) Result[model.ShelfSnapshot] {
	return call(ctx, g, OpGetShelf, id, record.Fields{"shelf": string(id)}, func(ctx context.Context) (model.ShelfSnapshot, error) {
		return g.actor.GetShelf(ctx, id)
	})
}

// ListShelves fetches one page of a principal's shelves and caches it. A
// first page that is also the last is cached under the principal key too.
func (g *Gateway) ListShelves(ctx context.Context, owner model.Principal, page model.Page) Result[model.ShelfPage] {
	args := record.Fields{"owner": string(owner), "cursor": page.CursorKey(), "limit": page.Limit}
	r := call(ctx, g, OpListShelves, "", args, func(ctx context.Context) (model.ShelfPage, error) {
		return g.actor.ListShelves(ctx, owner, page)
	})
	if r.IsOk() {
		ids := r.Value.IDs()
		g.put(ctx, cache.PageKey(owner, page.CursorKey(), page.Limit), r.Value, ids)
		if page.First() && r.Value.NextCursor == "" {
			g.put(ctx, cache.PrincipalKey(owner), r.Value, ids)
		}
	}
	return r
}

func (g *Gateway) put(ctx context.Context, key cache.Key, v any, contains []model.ShelfID) {
	payload, err := json.Marshal(v)
	if err != nil {
		g.logger.Warn("cache encode failed", "key", key.String(), "error", err)
		return
	}
	if _, err := g.cache.Put(ctx, key, payload, contains); err != nil {
		g.logger.Warn("cache put failed", "key", key.String(), "error", err)
	}
}
