// Package engine drives user intents against the normalized store and the
// gateway.
//
// Three pieces live here:
//
// Coordinator:
// Runs reorder gestures per (shelf, dimension) scope through an explicit
// state machine: Idle -> Dragging -> Applying -> PendingConfirm -> Idle.
// The new order is applied to the store optimistically, then confirmed
// with one reference-relative move call. On failure the optimistic order
// is discarded and the shelf is reloaded from the authority. A scope has
// at most one gesture in flight; a second one is rejected, not queued.
//
// Rebalance:
// Tracks per-shelf rebalance counters. While a shelf is unstable, drops
// are shown locally but not sent; the shelf is reloaded instead.
//
// Engine:
// The remaining intents (create, update, add, remove, load) composed as
// validate -> gateway -> store, with compensation notices on failure.
//
// Remote calls are the only blocking points. Confirmation calls run under
// a context that ignores the caller's cancellation, so a gesture that has
// been sent always completes its bookkeeping.
package engine
