package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/normstore"
)

// AssertionError is returned when an assertion fails. It carries the
// trace for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, ev)
		}
	}
	return buf.String()
}

// assertTraceContains checks for a call to the op, optionally on a given
// shelf and with a given outcome.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Op != a.Op {
			continue
		}
		if a.Shelf != "" && ev.Shelf != a.Shelf {
			continue
		}
		if a.Outcome != "" && ev.Outcome != a.Outcome {
			continue
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("call %s shelf=%q outcome=%q", a.Op, a.Shelf, a.Outcome),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the ops appear in
// order. Other calls may sit in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if _, seen := positions[ev.Op]; !seen {
			positions[ev.Op] = i
		}
	}
	for _, op := range a.Ops {
		if _, ok := positions[op]; !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual:   fmt.Sprintf("%s (pos %d) should be before %s (pos %d)", prev, positions[prev]+1, curr, positions[curr]+1),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the number of calls to an op.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Op == a.Op {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d calls to %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertOrder compares the client's local order of a scope.
func assertOrder(h *Harness, a Assertion) error {
	dim := dimensionOf(a)
	got := h.engine.Store().Order(normstore.DimensionScope(model.ShelfID(a.Shelf), dim))
	if !slices.Equal(got, a.Expect) {
		return &AssertionError{
			Type:     AssertOrder,
			Expected: fmt.Sprintf("%s %s local order %v", a.Shelf, dim, a.Expect),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertLedgerOrder compares the authority's order of a scope, read
// directly from the ledger.
func assertLedgerOrder(ctx context.Context, h *Harness, a Assertion) error {
	dim := dimensionOf(a)
	snap, err := h.ledger.ActorFor(h.engine.Principal()).GetShelf(ctx, model.ShelfID(a.Shelf))
	if err != nil {
		return fmt.Errorf("ledger_order: %w", err)
	}
	got := []string{}
	if dim == model.DimensionSlots {
		for _, sl := range snap.Slots {
			got = append(got, sl.ID.String())
		}
	} else {
		for _, it := range snap.Items {
			got = append(got, it.ID.String())
		}
	}
	if !slices.Equal(got, a.Expect) {
		return &AssertionError{
			Type:     AssertLedgerOrder,
			Expected: fmt.Sprintf("%s %s ledger order %v", a.Shelf, dim, a.Expect),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertNotices(result *Result, a Assertion) error {
	if len(result.Notices) != a.Count {
		return &AssertionError{
			Type:     AssertNotices,
			Expected: fmt.Sprintf("%d notices", a.Count),
			Actual:   fmt.Sprintf("%d notices: %v", len(result.Notices), result.Notices),
		}
	}
	return nil
}

func assertRebalance(h *Harness, a Assertion) error {
	got := h.engine.Rebalance().Unstable(model.ShelfID(a.Shelf))
	if got != a.Unstable {
		return &AssertionError{
			Type:     AssertRebalance,
			Expected: fmt.Sprintf("%s unstable=%t", a.Shelf, a.Unstable),
			Actual:   fmt.Sprintf("unstable=%t", got),
		}
	}
	return nil
}

func dimensionOf(a Assertion) model.Dimension {
	if a.Dimension == "" {
		return model.DimensionItems
	}
	return model.Dimension(a.Dimension)
}

// EvaluateAssertions runs every assertion and returns the failure
// messages. It does not stop at the first failure.
func EvaluateAssertions(ctx context.Context, h *Harness, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertOrder:
			err = assertOrder(h, a)
		case AssertLedgerOrder:
			err = assertLedgerOrder(ctx, h, a)
		case AssertNotices:
			err = assertNotices(result, a)
		case AssertRebalance:
			err = assertRebalance(h, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}
