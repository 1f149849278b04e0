package normstore

import "github.com/roach88/perpetua/internal/model"

// containment tracks which shelves nest which. Shelf ids are interned into
// an arena of dense indices; each node keeps its parents with an edge
// count, since one shelf may hold several items pointing at the same child.
type containment struct {
	index   map[model.ShelfID]int
	ids     []model.ShelfID
	parents []map[int]int
}

func newContainment() *containment {
	return &containment{index: make(map[model.ShelfID]int)}
}

func (g *containment) node(id model.ShelfID) int {
	if n, ok := g.index[id]; ok {
		return n
	}
	n := len(g.ids)
	g.index[id] = n
	g.ids = append(g.ids, id)
	g.parents = append(g.parents, make(map[int]int))
	return n
}

// wouldCycle reports whether placing child inside parent closes a loop:
// child is parent itself or one of parent's ancestors.
func (g *containment) wouldCycle(parent, child model.ShelfID) bool {
	if parent == child {
		return true
	}
	target, ok := g.index[child]
	if !ok {
		return false
	}
	start, ok := g.index[parent]
	if !ok {
		return false
	}

	seen := map[int]bool{start: true}
	stack := []int{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for p := range g.parents[n] {
			if p == target {
				return true
			}
			if !seen[p] {
				seen[p] = true
				stack = append(stack, p)
			}
		}
	}
	return false
}

func (g *containment) add(parent, child model.ShelfID) {
	c := g.node(child)
	g.parents[c][g.node(parent)]++
}

func (g *containment) remove(parent, child model.ShelfID) {
	c, ok := g.index[child]
	if !ok {
		return
	}
	p, ok := g.index[parent]
	if !ok {
		return
	}
	if g.parents[c][p] <= 1 {
		delete(g.parents[c], p)
		return
	}
	g.parents[c][p]--
}
