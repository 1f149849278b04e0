package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/perpetua/internal/cache"
	"github.com/roach88/perpetua/internal/gateway"
	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/normstore"
)

// Engine composes the store, the cache, the gateway and the reorder
// coordinator into the operations a client performs.
//
// Every operation follows the same shape: validate locally, call the
// gateway, then bring the store in line with the result. Failures that
// undo a local change are reported through the notice callback.
type Engine struct {
	store     *normstore.Store
	cache     *cache.Manager
	gw        *gateway.Gateway
	rebalance *Rebalance
	coord     *Coordinator
	settings
}

// New builds an Engine. The gateway should have been built with the same
// store as its permission source (gateway.WithPermissions).
func New(gw *gateway.Gateway, st *normstore.Store, c *cache.Manager, opts ...Option) *Engine {
	if gw == nil || st == nil || c == nil {
		panic("engine: New needs a gateway, a store and a cache")
	}
	rb := NewRebalance()
	e := &Engine{
		store:     st,
		cache:     c,
		gw:        gw,
		rebalance: rb,
		coord:     NewCoordinator(st, gw, rb, opts...),
		settings:  newSettings(opts),
	}
	return e
}

func (e *Engine) Store() *normstore.Store { return e.store }

func (e *Engine) Coordinator() *Coordinator { return e.coord }

func (e *Engine) Rebalance() *Rebalance { return e.rebalance }

func (e *Engine) Gateway() *gateway.Gateway { return e.gw }

// Principal is the identity the engine acts as.
func (e *Engine) Principal() model.Principal { return e.gw.Principal() }

// CreateShelf creates a shelf owned by the engine's principal and loads
// it into the store, appended to the owner's shelf order.
func (e *Engine) CreateShelf(ctx context.Context, title string, description *string, tags []string) (model.ShelfID, error) {
	const op = "create_shelf"
	title, err := model.NormalizeTitle(op, title)
	if err != nil {
		return "", err
	}
	if description, err = model.NormalizeDescription(op, description); err != nil {
		return "", err
	}
	if tags, err = model.NormalizeTags(op, tags); err != nil {
		return "", err
	}

	r := e.gw.CreateShelf(ctx, title, description, tags)
	if !r.IsOk() {
		return "", r.Err
	}
	id := r.Value
	if _, err := e.LoadShelf(ctx, id); err != nil {
		// keep a minimal record so the shelf still shows in the owner's list
		e.logger.Warn("created shelf could not be loaded", "shelf", id, "error", err)
		e.store.UpsertShelf(model.Shelf{
			ID:          id,
			Title:       title,
			Description: description,
			Owner:       e.gw.Principal(),
			Tags:        tags,
			Visibility:  model.VisibilityPrivate,
		})
	}
	e.logger.Info("shelf created", "shelf", id, "owner", e.gw.Principal())
	return id, nil
}

// UpdateShelfMetadata changes title and/or description. Nil leaves a
// field as it is.
func (e *Engine) UpdateShelfMetadata(ctx context.Context, id model.ShelfID, title, description *string) error {
	const op = "update_shelf_metadata"
	if title == nil && description == nil {
		return model.Validationf(op, "nothing to update")
	}
	if title != nil {
		t, err := model.NormalizeTitle(op, *title)
		if err != nil {
			return err
		}
		title = &t
	}
	description, err := model.NormalizeDescription(op, description)
	if err != nil {
		return err
	}

	r := e.gw.UpdateShelfMetadata(ctx, id, title, description)
	if !r.IsOk() {
		return r.Err
	}
	e.refresh(ctx, id)
	return nil
}

// AddItem inserts content on a shelf, after ref or before it when before
// is set; a nil ref appends (or prepends when before is set).
func (e *Engine) AddItem(ctx context.Context, shelf model.ShelfID, content model.ItemContent, ref *model.ItemID, before bool) (model.ItemID, error) {
	const op = "add_item"
	if content.Kind == model.ContentMarkdown {
		content.Markdown = norm.NFC.String(content.Markdown)
	}
	if err := content.Validate(op); err != nil {
		return 0, err
	}
	if content.Kind == model.ContentShelf {
		if err := e.store.CheckNoCycle(shelf, content.Shelf); err != nil {
			return 0, err
		}
	}

	r := e.gw.AddItem(ctx, shelf, model.AddItemRequest{Content: content, ReferenceItemID: ref, Before: before})
	if !r.IsOk() {
		return 0, r.Err
	}
	e.refresh(ctx, shelf)
	return r.Value, nil
}

// RemoveItem removes an item locally right away, then on the authority.
// Shelves the principal cannot edit are refused before anything changes.
// If the authority refuses, the shelf is reloaded.
func (e *Engine) RemoveItem(ctx context.Context, shelf model.ShelfID, item model.ItemID) error {
	if err := e.gw.Authorize(gateway.OpRemoveItem, shelf); err != nil {
		return err
	}
	prev, known := e.store.Snapshot(shelf)
	if known {
		if err := e.store.RemoveItem(shelf, item); err != nil {
			return err
		}
		for _, sl := range prev.Slots {
			if sl.ItemRef == item {
				if err := e.store.RemoveSlot(shelf, sl.ID); err != nil {
					e.logger.Warn("slot removal failed", "shelf", shelf, "slot", sl.ID, "error", err)
				}
			}
		}
	}

	r := e.gw.RemoveItem(ctx, shelf, item)
	if r.IsOk() {
		return nil
	}
	if known {
		e.metrics.Compensated(gateway.OpRemoveItem)
		if _, err := e.coord.reload(context.WithoutCancel(ctx), shelf); err != nil {
			e.logger.Error("reload failed, restoring item", "shelf", shelf, "item", item, "error", err)
			if err := e.store.ReplaceShelf(prev); err != nil {
				e.logger.Error("restore failed", "shelf", shelf, "error", err)
			}
		}
		e.coord.emit(Notice{Shelf: shelf, Op: gateway.OpRemoveItem, Kind: r.Err.Kind, Message: "remove failed: " + r.Err.Error()})
	}
	return r.Err
}

// LoadShelf fetches a shelf's canonical snapshot and installs it.
func (e *Engine) LoadShelf(ctx context.Context, id model.ShelfID) (model.ShelfSnapshot, error) {
	return e.coord.reload(ctx, id)
}

// LoadShelves fetches one page of owner's shelves and records them.
// Position keys already known for a shelf are kept, since list results do
// not carry them.
func (e *Engine) LoadShelves(ctx context.Context, owner model.Principal, page model.Page) (model.ShelfPage, error) {
	r := e.gw.ListShelves(ctx, owner, page)
	if !r.IsOk() {
		return model.ShelfPage{}, r.Err
	}
	for _, sh := range r.Value.Shelves {
		if prev, ok := e.store.Shelf(sh.ID); ok && sh.ItemPositions == nil {
			sh.ItemPositions = prev.ItemPositions
		}
		e.store.UpsertShelf(sh)
		e.rebalance.Observe(sh)
	}
	return r.Value, nil
}

// ShelfView reads a shelf through the cache: a fresh entry is served as
// is, a stale one is served while a background reload runs, and a miss is
// loaded inline.
func (e *Engine) ShelfView(ctx context.Context, id model.ShelfID) (model.ShelfSnapshot, cache.Status, error) {
	load := func(ctx context.Context) ([]byte, []model.ShelfID, error) {
		r := e.gw.FetchShelf(ctx, id)
		if !r.IsOk() {
			return nil, nil, r.Err
		}
		payload, err := json.Marshal(r.Value)
		if err != nil {
			return nil, nil, err
		}
		return payload, []model.ShelfID{id}, nil
	}
	entry, status, err := e.cache.Fetch(ctx, cache.ShelfKey(id), load)
	if err != nil {
		return model.ShelfSnapshot{}, cache.Miss, err
	}
	var snap model.ShelfSnapshot
	if err := json.Unmarshal(entry.Payload, &snap); err != nil {
		return model.ShelfSnapshot{}, status, fmt.Errorf("decode cached shelf %s: %w", id, err)
	}
	return snap, status, nil
}

// refresh reloads a shelf after a successful write. A failed reload is
// logged; the write itself already succeeded.
func (e *Engine) refresh(ctx context.Context, id model.ShelfID) {
	if _, err := e.coord.reload(ctx, id); err != nil {
		e.logger.Warn("reload after write failed", "shelf", id, "error", err)
	}
}
