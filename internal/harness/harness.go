package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/perpetua/internal/cache"
	"github.com/roach88/perpetua/internal/engine"
	"github.com/roach88/perpetua/internal/gateway"
	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/normstore"
	"github.com/roach88/perpetua/internal/record"
	"github.com/roach88/perpetua/internal/store"
	"github.com/roach88/perpetua/internal/testutil"
)

// DefaultPrincipal is the client identity when a scenario names none.
const DefaultPrincipal = "alice"

// ledgerEpoch stamps every ledger row so runs are reproducible.
var ledgerEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness holds one scenario run: a fresh in-memory ledger behind a
// scripted actor, and a client engine wired to it.
type Harness struct {
	ledger *store.Store
	actor  *testutil.ScriptedActor
	engine *engine.Engine
	logger *slog.Logger

	mu      sync.Mutex
	notices []engine.Notice
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes engine and gateway logs, which are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario against a fresh ledger and returns the result.
// An error means the scenario could not be run at all (bad arguments or a
// failing setup step); failed expectations are reported in the Result.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	ledger, err := store.Open(":memory:", store.WithNow(func() time.Time { return ledgerEpoch }))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory ledger: %w", err)
	}
	defer ledger.Close()

	principal := model.Principal(s.Principal)
	if principal == "" {
		principal = DefaultPrincipal
	}

	h := &Harness{
		ledger: ledger,
		actor:  testutil.NewScriptedActor(ledger.ActorFor(principal)),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	st := normstore.New()
	c := cache.New(
		cache.WithScheduler(func(f func()) { f() }),
		cache.WithClock(testutil.NewFakeClock(ledgerEpoch).Now),
		cache.WithLogger(h.logger),
	)
	gw := gateway.New(h.actor, principal, c,
		gateway.WithPermissions(st),
		gateway.WithJournal(ledger),
		gateway.WithLogger(h.logger),
	)
	h.engine = engine.New(gw, st, c,
		engine.WithGestures(testutil.NewFixedGestureGenerator(s.Gesture)),
		engine.WithNotices(h.notify),
		engine.WithLogger(h.logger),
	)

	for i, step := range s.Setup {
		h.applyFaults(step.Fail)
		if _, err := h.exec(ctx, step); err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Do, err)
		}
	}

	start, err := ledger.MaxSeq(ctx)
	if err != nil {
		return nil, err
	}
	h.actor.Reset()
	h.mu.Lock()
	h.notices = nil
	h.mu.Unlock()

	result := NewResult()
	for i, step := range s.Flow {
		h.applyFaults(step.Fail)
		res, err := h.exec(ctx, step)
		if msg := checkExpect(step, res, err); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Do, msg))
		}
		h.logger.Info("flow step completed", "step", i, "do", step.Do, "error", err)
	}

	if result.Trace, err = h.trace(ctx, start); err != nil {
		return nil, err
	}
	result.Notices = h.Notices()

	for _, msg := range EvaluateAssertions(ctx, h, result, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) notify(n engine.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notices = append(h.notices, n)
}

// Notices returns the notices raised since setup finished.
func (h *Harness) Notices() []engine.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]engine.Notice(nil), h.notices...)
}

func (h *Harness) applyFaults(faults []Fault) {
	for _, f := range faults {
		var err error = gateway.ErrUnavailable
		if f.Tag != "" {
			err = gateway.Reject(f.Tag, "scripted")
		}
		if f.Always {
			h.actor.FailAlways(f.Op, err)
		} else {
			h.actor.FailNext(f.Op, err)
		}
	}
}

// trace reads the journal entries written after seq.
func (h *Harness) trace(ctx context.Context, after int64) ([]TraceEvent, error) {
	entries, err := h.ledger.ReadJournal(ctx, store.JournalFilter{})
	if err != nil {
		return nil, err
	}
	out := []TraceEvent{}
	for _, e := range entries {
		if e.Call.Seq <= after {
			continue
		}
		encoded, err := record.Marshal(e.Call.Args)
		if err != nil {
			return nil, fmt.Errorf("call %d args: %w", e.Call.Seq, err)
		}
		ev := TraceEvent{
			Seq:     e.Call.Seq,
			Gesture: e.Call.Gesture,
			Op:      e.Call.Op,
			Shelf:   e.Call.Shelf,
			Args:    string(encoded),
			Outcome: "pending",
		}
		if e.Outcome != nil {
			ev.Outcome = e.Outcome.Kind
			ev.Detail = e.Outcome.Detail
		}
		out = append(out, ev)
	}
	return out, nil
}

// stepResult carries what a step produced beyond its error.
type stepResult struct {
	outcome    engine.Outcome
	hasOutcome bool
	applied    int
}

func (h *Harness) exec(ctx context.Context, step Step) (stepResult, error) {
	a := args(step.Args)
	e := h.engine
	switch step.Do {
	case "create_shelf":
		var desc *string
		if a.has("description") {
			d := a.str("description")
			desc = &d
		}
		_, err := e.CreateShelf(ctx, a.str("title"), desc, a.strs("tags"))
		return stepResult{}, err

	case "update_shelf":
		var title, desc *string
		if a.has("title") {
			t := a.str("title")
			title = &t
		}
		if a.has("description") {
			d := a.str("description")
			desc = &d
		}
		return stepResult{}, e.UpdateShelfMetadata(ctx, a.shelf(), title, desc)

	case "add_item":
		var content model.ItemContent
		switch {
		case a.has("markdown"):
			content = model.MarkdownContent(a.str("markdown"))
		case a.has("nft"):
			content = model.NFTContent(a.str("nft"))
		case a.has("contains"):
			content = model.ShelfContent(model.ShelfID(a.str("contains")))
		default:
			return stepResult{}, fmt.Errorf("add_item needs markdown, nft or contains")
		}
		var ref *model.ItemID
		if a.has("ref") {
			r := model.ItemID(a.id("ref"))
			ref = &r
		}
		_, err := e.AddItem(ctx, a.shelf(), content, ref, a.flag("before"))
		return stepResult{}, err

	case "remove_item":
		return stepResult{}, e.RemoveItem(ctx, a.shelf(), model.ItemID(a.id("item")))

	case "drop":
		co := e.Coordinator()
		if err := co.BeginDrag(a.shelf(), a.dim()); err != nil {
			return stepResult{}, err
		}
		out, err := co.Drop(ctx, a.shelf(), a.dim(), a.num("from"), a.num("to"))
		return stepResult{outcome: out, hasOutcome: true}, err

	case "move":
		cmd := moveCommand(a)
		out, err := e.Coordinator().MoveRelative(ctx, a.shelf(), a.dim(), cmd)
		return stepResult{outcome: out, hasOutcome: true}, err

	case "reorder":
		rep, err := e.Coordinator().Reorder(ctx, a.shelf(), a.dim(), a.strs("order"))
		return stepResult{outcome: rep.Outcome, hasOutcome: true, applied: rep.Applied}, err

	case "load_shelf":
		_, err := e.LoadShelf(ctx, a.shelf())
		return stepResult{}, err

	case "list_shelves":
		page := model.Page{Limit: a.num("limit"), Cursor: a.str("cursor")}
		_, err := e.LoadShelves(ctx, e.Principal(), page)
		return stepResult{}, err

	case "mark_rebalance":
		return stepResult{}, h.ledger.MarkRebalance(ctx, a.shelf())

	case "rebalance":
		return stepResult{}, h.ledger.Rebalance(ctx, a.shelf())
	}
	return stepResult{}, fmt.Errorf("unknown step %q", step.Do)
}

func checkExpect(step Step, res stepResult, err error) string {
	want := step.Expect
	if want == nil {
		want = &Expect{}
	}
	switch {
	case want.Error == "" && err != nil:
		return fmt.Sprintf("unexpected error: %v", err)
	case want.Error != "" && err == nil:
		return fmt.Sprintf("expected %s error, got success", want.Error)
	case want.Error != "" && string(model.KindOf(err)) != want.Error:
		return fmt.Sprintf("expected %s error, got %s (%v)", want.Error, model.KindOf(err), err)
	}
	if want.Outcome != "" {
		if !res.hasOutcome {
			return fmt.Sprintf("step has no outcome, expected %s", want.Outcome)
		}
		if res.outcome.String() != want.Outcome {
			return fmt.Sprintf("expected outcome %s, got %s", want.Outcome, res.outcome)
		}
	}
	if want.Applied != nil && res.applied != *want.Applied {
		return fmt.Sprintf("expected %d applied moves, got %d", *want.Applied, res.applied)
	}
	return ""
}
