package engine

import (
	"sync"

	"github.com/roach88/perpetua/internal/model"
)

// Rebalance tracks whether each shelf's position keys may be in flux on
// the authority.
//
// A shelf is unstable while the authority flags it as needing a rebalance
// or when its rebalance counter changed since the previous read. It turns
// stable once a read shows the flag cleared and the counter unchanged.
//
// Thread-safety: all methods are safe for concurrent use.
type Rebalance struct {
	mu       sync.Mutex
	counts   map[model.ShelfID]uint64
	unstable map[model.ShelfID]bool
}

// NewRebalance returns a tracker with no shelves observed.
func NewRebalance() *Rebalance {
	return &Rebalance{
		counts:   make(map[model.ShelfID]uint64),
		unstable: make(map[model.ShelfID]bool),
	}
}

// Observe records a freshly read shelf and reports whether it is stable.
func (r *Rebalance) Observe(sh model.Shelf) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, seen := r.counts[sh.ID]
	r.counts[sh.ID] = sh.RebalanceCount

	unstable := sh.NeedsRebalance || (seen && prev != sh.RebalanceCount)
	if unstable {
		r.unstable[sh.ID] = true
	} else {
		delete(r.unstable, sh.ID)
	}
	return !unstable
}

// Unstable reports whether drops on the shelf should be deferred.
func (r *Rebalance) Unstable(id model.ShelfID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unstable[id]
}

// MarkUnstable flags a shelf after the authority refused a move because
// of a rebalance in progress.
func (r *Rebalance) MarkUnstable(id model.ShelfID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unstable[id] = true
}
