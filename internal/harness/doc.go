// Package harness runs YAML scenarios against the client engine and a
// throwaway ledger, with scripted authority faults.
//
// # Scenario Format
//
//	name: drop_conflict_reverts
//	description: "A refused drop restores the authority's order"
//	gesture: g-1
//	setup:
//	  - do: create_shelf
//	    args: { title: "Reading" }
//	  - do: add_item
//	    args: { shelf: S1, markdown: "a" }
//	flow:
//	  - do: drop
//	    args: { shelf: S1, from: 2, to: 0 }
//	    fail:
//	      - { op: reorder_item, tag: PositionConflict }
//	    expect: { error: CONFLICT, outcome: reverted }
//	assertions:
//	  - { type: order, shelf: S1, expect: ["1", "2", "3"] }
//	  - { type: notices, count: 1 }
//
// Steps: create_shelf, update_shelf, add_item, remove_item, drop, move,
// reorder, load_shelf, list_shelves, and the ledger admin steps
// mark_rebalance and rebalance.
//
// # Assertion Types
//
//   - trace_contains: a flow call to op (optionally on shelf, with outcome)
//   - trace_order: ops first appear in the given order
//   - trace_count: op was called exactly count times
//   - order: the client's local order of a shelf dimension
//   - ledger_order: the authority's order of a shelf dimension
//   - notices: exactly count compensation notices were raised
//   - rebalance: whether the client treats the shelf as unstable
//
// # Deterministic Testing
//
// Each run uses a fresh in-memory ledger with a fixed clock, a fixed
// gesture id and an inline cache scheduler, so the journaled trace is
// identical across runs and can be compared against golden files.
package harness
