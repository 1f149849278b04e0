package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/perpetua/internal/gateway"
	"github.com/roach88/perpetua/internal/metrics"
	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/normstore"
	"github.com/roach88/perpetua/internal/order"
)

// DefaultMaxMoves bounds how many single moves one bulk reorder may issue.
const DefaultMaxMoves = 100

// State of a (shelf, dimension) reorder scope.
type State int

const (
	Idle State = iota
	Dragging
	Applying
	PendingConfirm
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Applying:
		return "applying"
	case PendingConfirm:
		return "pending_confirm"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// legal lists the states each state may move to. PendingConfirm ->
// Applying chains the moves of one bulk reorder; Dragging ->
// PendingConfirm skips Applying on a rebalancing shelf.
var legal = map[State][]State{
	Idle:           {Dragging, Applying, PendingConfirm},
	Dragging:       {Applying, PendingConfirm, Idle},
	Applying:       {PendingConfirm, Idle},
	PendingConfirm: {Idle, Applying},
}

// Outcome of a gesture.
type Outcome int

const (
	// NoOp means nothing changed and nothing was sent.
	NoOp Outcome = iota
	// Committed means the authority accepted the move.
	Committed
	// Deferred means the shelf was rebalancing: the move was not sent and
	// the shelf was reloaded.
	Deferred
	// Reverted means the authority refused the move and the optimistic
	// order was replaced by a reload, or restored if the reload failed.
	Reverted
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Deferred:
		return "deferred"
	case Reverted:
		return "reverted"
	default:
		return "noop"
	}
}

// Notice tells the user that a local change was rolled back.
type Notice struct {
	Shelf   model.ShelfID `json:"shelf"`
	Op      string        `json:"op"`
	Kind    model.Kind    `json:"kind,omitempty"`
	Message string        `json:"message"`
}

// NoticeFunc receives compensation notices.
type NoticeFunc func(Notice)

// Option configures a Coordinator or an Engine.
type Option func(*settings)

type settings struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	notify   NoticeFunc
	gestures GestureGenerator
	maxMoves int
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		notify:   func(Notice) {},
		gestures: UUIDv7Generator{},
		maxMoves: DefaultMaxMoves,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithNotices delivers compensation notices to fn.
func WithNotices(fn NoticeFunc) Option {
	return func(s *settings) { s.notify = fn }
}

// WithGestures replaces the UUIDv7 gesture id generator.
func WithGestures(g GestureGenerator) Option {
	return func(s *settings) { s.gestures = g }
}

// WithMaxMoves bounds bulk reorders.
//
// Default: 100 moves (DefaultMaxMoves)
func WithMaxMoves(n int) Option {
	return func(s *settings) { s.maxMoves = n }
}

type scopeKey struct {
	shelf model.ShelfID
	dim   model.Dimension
}

type scopeState struct {
	state   State
	gesture string
	hover   int
}

// ScopeStatus describes a scope with a gesture in progress.
type ScopeStatus struct {
	Shelf     model.ShelfID   `json:"shelf"`
	Dimension model.Dimension `json:"dimension"`
	State     string          `json:"state"`
	Gesture   string          `json:"gesture"`
	Hover     int             `json:"hover"`
}

// ReorderReport summarizes a bulk reorder.
type ReorderReport struct {
	Planned int     `json:"planned"`
	Applied int     `json:"applied"`
	Outcome Outcome `json:"-"`
}

// Coordinator runs reorder gestures.
//
// Thread-safety: all methods are safe for concurrent use. Gestures on
// different scopes proceed independently; a scope admits one gesture at a
// time.
type Coordinator struct {
	store     *normstore.Store
	gw        *gateway.Gateway
	rebalance *Rebalance
	settings

	mu     sync.Mutex
	scopes map[scopeKey]*scopeState
}

// NewCoordinator builds a Coordinator. All arguments are required.
func NewCoordinator(st *normstore.Store, gw *gateway.Gateway, rb *Rebalance, opts ...Option) *Coordinator {
	if st == nil || gw == nil || rb == nil {
		panic("engine: NewCoordinator needs a store, a gateway and a rebalance tracker")
	}
	return &Coordinator{
		store:     st,
		gw:        gw,
		rebalance: rb,
		settings:  newSettings(opts),
		scopes:    make(map[scopeKey]*scopeState),
	}
}

// State returns the current state of a scope.
func (c *Coordinator) State(shelf model.ShelfID, dim model.Dimension) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.scopes[scopeKey{shelf, dim}]; ok {
		return st.state
	}
	return Idle
}

// Snapshot lists the scopes that are not idle, ordered by shelf and
// dimension.
func (c *Coordinator) Snapshot() []ScopeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ScopeStatus, 0, len(c.scopes))
	for k, st := range c.scopes {
		out = append(out, ScopeStatus{
			Shelf:     k.shelf,
			Dimension: k.dim,
			State:     st.state.String(),
			Gesture:   st.gesture,
			Hover:     st.hover,
		})
	}
	slices.SortFunc(out, func(a, b ScopeStatus) int {
		if c := strings.Compare(string(a.Shelf), string(b.Shelf)); c != 0 {
			return c
		}
		return strings.Compare(string(a.Dimension), string(b.Dimension))
	})
	return out
}

func (c *Coordinator) check(op string, shelf model.ShelfID, dim model.Dimension) error {
	if dim != model.DimensionItems && dim != model.DimensionSlots {
		return model.Validationf(op, "unknown dimension %q", dim)
	}
	if _, ok := c.store.Shelf(shelf); !ok {
		return fmt.Errorf("%s %s: %w", op, shelf, ErrUnknownShelf)
	}
	if err := c.gw.Authorize(moveOp(dim), shelf); err != nil {
		c.metrics.ReorderRejected("unauthorized")
		return err
	}
	return nil
}

func moveOp(dim model.Dimension) string {
	if dim == model.DimensionSlots {
		return gateway.OpMoveSlot
	}
	return gateway.OpMoveItem
}

// entry is the state a move starts in: Applying normally, PendingConfirm
// with nothing applied while the shelf is rebalancing.
func (c *Coordinator) entry(shelf model.ShelfID) (State, bool) {
	if c.rebalance.Unstable(shelf) {
		return PendingConfirm, true
	}
	return Applying, false
}

// acquire starts a gesture on an idle scope.
func (c *Coordinator) acquire(k scopeKey, to State) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.scopes[k]; ok && st.state != Idle {
		c.metrics.ReorderRejected("in_flight")
		c.logger.Debug("gesture rejected", "shelf", k.shelf, "dimension", k.dim, "state", st.state)
		return "", ErrReorderInFlight
	}
	gesture := c.gestures.Generate()
	c.scopes[k] = &scopeState{state: to, gesture: gesture, hover: -1}
	return gesture, nil
}

// advance moves a scope from one of the allowed states to the next.
func (c *Coordinator) advance(k scopeKey, to State, from ...State) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := Idle
	st, ok := c.scopes[k]
	if ok {
		cur = st.state
	}
	if len(from) > 0 && !slices.Contains(from, cur) || !slices.Contains(legal[cur], to) || (!ok && to != Idle) {
		return "", fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur, to)
	}
	if to == Idle {
		delete(c.scopes, k)
		return "", nil
	}
	st.state = to
	return st.gesture, nil
}

func (c *Coordinator) finish(k scopeKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.scopes, k)
}

// BeginDrag starts a drag gesture. It fails with ErrReorderInFlight if the
// scope is busy.
func (c *Coordinator) BeginDrag(shelf model.ShelfID, dim model.Dimension) error {
	if err := c.check("begin_drag", shelf, dim); err != nil {
		return err
	}
	gesture, err := c.acquire(scopeKey{shelf, dim}, Dragging)
	if err != nil {
		return err
	}
	c.logger.Debug("drag started", "shelf", shelf, "dimension", dim, "gesture", gesture)
	return nil
}

// Hover records the index a drag is currently over. Nothing is applied.
func (c *Coordinator) Hover(shelf model.ShelfID, dim model.Dimension, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.scopes[scopeKey{shelf, dim}]
	if !ok || st.state != Dragging {
		return fmt.Errorf("%w: hover outside a drag", ErrIllegalTransition)
	}
	st.hover = index
	return nil
}

// CancelDrag abandons a drag without changing anything.
func (c *Coordinator) CancelDrag(shelf model.ShelfID, dim model.Dimension) error {
	_, err := c.advance(scopeKey{shelf, dim}, Idle, Dragging)
	return err
}

// Drop ends a drag by moving the element at index from to index to.
//
// The new order is applied to the store, then confirmed with one
// reference-relative move: to the head, the reference is the element that
// now follows it; anywhere else, the element that now precedes it.
func (c *Coordinator) Drop(ctx context.Context, shelf model.ShelfID, dim model.Dimension, from, to int) (Outcome, error) {
	k := scopeKey{shelf, dim}
	state, unstable := c.entry(shelf)
	gesture, err := c.advance(k, state, Dragging)
	if err != nil {
		return NoOp, err
	}
	defer c.finish(k)

	current := c.store.Order(normstore.DimensionScope(shelf, dim))
	_, cmd, ok, err := order.MoveIndex(current, from, to)
	if err != nil {
		return NoOp, model.Validationf("drop", "%v", err)
	}
	if !ok {
		return NoOp, nil
	}
	ctx = gateway.WithGesture(ctx, gesture)
	if unstable {
		return c.hold(ctx, k, cmd), nil
	}
	return c.commit(ctx, k, cmd)
}

// MoveRelative places one element before or after a reference, or at the
// head or tail when the reference is nil.
func (c *Coordinator) MoveRelative(ctx context.Context, shelf model.ShelfID, dim model.Dimension, cmd order.Command[string]) (Outcome, error) {
	if err := c.check("move", shelf, dim); err != nil {
		return NoOp, err
	}
	k := scopeKey{shelf, dim}
	state, unstable := c.entry(shelf)
	gesture, err := c.acquire(k, state)
	if err != nil {
		return NoOp, err
	}
	defer c.finish(k)

	current := c.store.Order(normstore.DimensionScope(shelf, dim))
	next, err := order.Apply(current, cmd)
	if err != nil {
		return NoOp, model.Validationf("move", "%v", err)
	}
	if slices.Equal(current, next) {
		return NoOp, nil
	}
	ctx = gateway.WithGesture(ctx, gesture)
	if unstable {
		return c.hold(ctx, k, cmd), nil
	}
	return c.commit(ctx, k, cmd)
}

// Reorder moves a scope to the target permutation using the fewest single
// moves, each confirmed before the next is applied. It stops at the first
// move that is not committed.
func (c *Coordinator) Reorder(ctx context.Context, shelf model.ShelfID, dim model.Dimension, target []string) (ReorderReport, error) {
	if err := c.check("reorder", shelf, dim); err != nil {
		return ReorderReport{}, err
	}
	k := scopeKey{shelf, dim}
	state, unstable := c.entry(shelf)
	gesture, err := c.acquire(k, state)
	if err != nil {
		return ReorderReport{}, err
	}
	defer c.finish(k)
	ctx = gateway.WithGesture(ctx, gesture)

	scope := normstore.DimensionScope(shelf, dim)
	current := c.store.Order(scope)
	if !order.IsPermutation(current, target) {
		return ReorderReport{}, model.Validationf("reorder", "%v is not a permutation of %v", target, current)
	}
	cmds, err := order.Decompose(current, target)
	if err != nil {
		return ReorderReport{}, model.Validationf("reorder", "%v", err)
	}
	if len(cmds) > c.maxMoves {
		c.metrics.ReorderRejected("max_moves")
		return ReorderReport{}, &MoveLimitError{Shelf: shelf, Dimension: dim, Moves: len(cmds), Limit: c.maxMoves}
	}

	report := ReorderReport{Planned: len(cmds), Outcome: NoOp}
	for i, cmd := range cmds {
		if i > 0 {
			// the shelf may have started rebalancing during the last move
			if c.rebalance.Unstable(shelf) {
				unstable = true
			} else if _, err := c.advance(k, Applying, PendingConfirm); err != nil {
				return report, err
			}
		}
		if unstable {
			report.Outcome = c.hold(ctx, k, cmd)
			return report, nil
		}
		out, err := c.commit(ctx, k, cmd)
		report.Outcome = out
		if out != Committed {
			return report, err
		}
		report.Applied++
	}
	c.logger.Info("reorder complete", "shelf", shelf, "dimension", dim, "moves", report.Applied)
	return report, nil
}

// commit applies cmd optimistically and confirms it with the authority.
// The scope must be Applying; it is left PendingConfirm on success.
func (c *Coordinator) commit(ctx context.Context, k scopeKey, cmd order.Command[string]) (Outcome, error) {
	scope := normstore.DimensionScope(k.shelf, k.dim)
	prev := c.store.Order(scope)
	known, _ := c.store.Shelf(k.shelf)
	if _, err := c.store.ApplyMove(scope, cmd); err != nil {
		return NoOp, err
	}
	ctx = context.WithoutCancel(ctx)

	if _, err := c.advance(k, PendingConfirm, Applying); err != nil {
		return NoOp, err
	}
	merr := c.send(ctx, k, cmd)
	if merr == nil {
		c.logger.Debug("move confirmed", "shelf", k.shelf, "dimension", k.dim, "move", cmd.String())
		return Committed, nil
	}

	if gateway.IsRebalanceConflict(merr.Err) {
		c.rebalance.MarkUnstable(k.shelf)
	}
	c.metrics.Compensated(merr.Op)
	c.compensate(ctx, k, &saved{order: prev, positions: known.ItemPositions}, merr.Kind, "reorder failed: "+merr.Error())
	return Reverted, merr
}

// hold answers a move on a rebalancing shelf: nothing is applied or sent,
// and the shelf is reloaded instead.
func (c *Coordinator) hold(ctx context.Context, k scopeKey, cmd order.Command[string]) Outcome {
	c.metrics.ReorderRejected("rebalance")
	c.logger.Info("shelf is rebalancing, move not sent", "shelf", k.shelf, "dimension", k.dim, "move", cmd.String())
	c.compensate(context.WithoutCancel(ctx), k, nil, "", "reorder held back while the shelf is rebalancing")
	return Deferred
}

// saved is a scope's order and position keys from before an optimistic
// move.
type saved struct {
	order     []string
	positions map[model.ItemID]model.PositionKey
}

func (c *Coordinator) send(ctx context.Context, k scopeKey, cmd order.Command[string]) *model.Error {
	switch k.dim {
	case model.DimensionItems:
		id, err := model.ParseItemID(cmd.ID)
		if err != nil {
			return model.Validationf(gateway.OpMoveItem, "%v", err)
		}
		var ref *model.ItemID
		if cmd.Ref != nil {
			r, err := model.ParseItemID(*cmd.Ref)
			if err != nil {
				return model.Validationf(gateway.OpMoveItem, "%v", err)
			}
			ref = &r
		}
		return c.gw.MoveItem(ctx, k.shelf, id, ref, cmd.Before).Err
	default:
		id, err := model.ParseSlotID(cmd.ID)
		if err != nil {
			return model.Validationf(gateway.OpMoveSlot, "%v", err)
		}
		var ref *model.SlotID
		if cmd.Ref != nil {
			r, err := model.ParseSlotID(*cmd.Ref)
			if err != nil {
				return model.Validationf(gateway.OpMoveSlot, "%v", err)
			}
			ref = &r
		}
		return c.gw.MoveSlot(ctx, k.shelf, id, ref, cmd.Before).Err
	}
}

// compensate reloads the shelf; if that fails and a move was applied,
// the scope's previous order and keys are put back.
func (c *Coordinator) compensate(ctx context.Context, k scopeKey, prev *saved, kind model.Kind, msg string) {
	if _, err := c.reload(ctx, k.shelf); err != nil {
		c.logger.Error("reload failed", "shelf", k.shelf, "dimension", k.dim, "restore", prev != nil, "error", err)
		if prev != nil {
			if err := c.store.RestoreOrder(normstore.DimensionScope(k.shelf, k.dim), prev.order, prev.positions); err != nil {
				c.logger.Error("restore failed", "shelf", k.shelf, "dimension", k.dim, "error", err)
			}
		}
	}
	c.emit(Notice{Shelf: k.shelf, Op: "reorder_" + string(k.dim), Kind: kind, Message: msg})
}

func (c *Coordinator) emit(n Notice) {
	c.logger.Warn("local change rolled back", "shelf", n.Shelf, "op", n.Op, "kind", n.Kind, "message", n.Message)
	c.notify(n)
}

// reload installs the authority's canonical snapshot of a shelf.
func (c *Coordinator) reload(ctx context.Context, shelf model.ShelfID) (model.ShelfSnapshot, error) {
	r := c.gw.GetShelf(ctx, shelf)
	if !r.IsOk() {
		return model.ShelfSnapshot{}, r.Err
	}
	if err := c.store.ReplaceShelf(r.Value); err != nil {
		return model.ShelfSnapshot{}, err
	}
	stable := c.rebalance.Observe(r.Value.Shelf)
	c.logger.Debug("shelf reloaded", "shelf", shelf, "items", len(r.Value.Items), "stable", stable)
	return r.Value, nil
}
