// Package order implements reference-relative moves over ordered id lists.
//
// The remote authority never sees indices. A move is always expressed as
// "place ID immediately before (or after) Ref", and every local permutation
// is derived from such commands so the local and remote views agree on what
// a drop meant.
package order

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	// ErrNotFound is returned when the moved id or the reference is not in
	// the list.
	ErrNotFound = errors.New("id not in order")

	// ErrSelfReference is returned when an id is positioned relative to
	// itself.
	ErrSelfReference = errors.New("id cannot be positioned relative to itself")

	// ErrNotPermutation is returned when two lists do not hold the same ids.
	ErrNotPermutation = errors.New("lists are not permutations of each other")
)

// Command places ID immediately before or after Ref. A nil Ref moves ID to
// the head (Before) or the tail (!Before).
type Command[T comparable] struct {
	ID     T
	Ref    *T
	Before bool
}

func (c Command[T]) String() string {
	if c.Ref == nil {
		if c.Before {
			return fmt.Sprintf("%v to head", c.ID)
		}
		return fmt.Sprintf("%v to tail", c.ID)
	}
	if c.Before {
		return fmt.Sprintf("%v before %v", c.ID, *c.Ref)
	}
	return fmt.Sprintf("%v after %v", c.ID, *c.Ref)
}

// Apply returns a new list with the command applied. The input is not
// modified.
func Apply[T comparable](list []T, c Command[T]) ([]T, error) {
	from := slices.Index(list, c.ID)
	if from < 0 {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, c.ID)
	}
	if c.Ref != nil && *c.Ref == c.ID {
		return nil, fmt.Errorf("%w: %v", ErrSelfReference, c.ID)
	}

	out := make([]T, 0, len(list))
	out = append(out, list[:from]...)
	out = append(out, list[from+1:]...)

	var at int
	switch {
	case c.Ref == nil && c.Before:
		at = 0
	case c.Ref == nil:
		at = len(out)
	default:
		ref := slices.Index(out, *c.Ref)
		if ref < 0 {
			return nil, fmt.Errorf("%w: reference %v", ErrNotFound, *c.Ref)
		}
		at = ref
		if !c.Before {
			at++
		}
	}
	return slices.Insert(out, at, c.ID), nil
}

// MoveIndex removes the element at from and reinserts it at to, returning
// the new list and the reference-relative command that produces it.
// ok is false when the move changes nothing.
//
// Moving to index 0 references the element that ends up at index 1 with
// Before set; any other target references the new predecessor.
func MoveIndex[T comparable](list []T, from, to int) (next []T, cmd Command[T], ok bool, err error) {
	if from < 0 || from >= len(list) || to < 0 || to >= len(list) {
		return nil, cmd, false, fmt.Errorf("move %d -> %d out of range for %d elements", from, to, len(list))
	}
	if from == to || len(list) < 2 {
		return slices.Clone(list), cmd, false, nil
	}

	id := list[from]
	next = slices.Delete(slices.Clone(list), from, from+1)
	next = slices.Insert(next, to, id)

	if to == 0 {
		ref := next[1]
		cmd = Command[T]{ID: id, Ref: &ref, Before: true}
	} else {
		ref := next[to-1]
		cmd = Command[T]{ID: id, Ref: &ref, Before: false}
	}
	return next, cmd, true, nil
}

// IsPermutation reports whether a and b hold exactly the same ids, each
// once.
func IsPermutation[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[T]int, len(a))
	for _, x := range a {
		seen[x]++
		if seen[x] > 1 {
			return false
		}
	}
	for _, x := range b {
		if seen[x] != 1 {
			return false
		}
		seen[x]++
	}
	return true
}

// Decompose returns the shortest sequence of single moves that turns
// current into target. Elements on a longest increasing subsequence stay
// put; every other element is moved, left to right, directly after its
// target predecessor (or to the head).
func Decompose[T comparable](current, target []T) ([]Command[T], error) {
	if !IsPermutation(current, target) {
		return nil, ErrNotPermutation
	}

	pos := make(map[T]int, len(current))
	for i, x := range current {
		pos[x] = i
	}
	seq := make([]int, len(target))
	for i, x := range target {
		seq[i] = pos[x]
	}
	stable := longestIncreasing(seq)

	work := slices.Clone(current)
	var cmds []Command[T]
	for i, id := range target {
		if stable[i] {
			continue
		}
		var cmd Command[T]
		if i == 0 {
			head := work[0]
			if head == id {
				continue
			}
			cmd = Command[T]{ID: id, Ref: &head, Before: true}
		} else {
			prev := target[i-1]
			at := slices.Index(work, prev)
			if at+1 < len(work) && work[at+1] == id {
				continue
			}
			cmd = Command[T]{ID: id, Ref: &prev, Before: false}
		}
		next, err := Apply(work, cmd)
		if err != nil {
			return nil, err
		}
		work = next
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// longestIncreasing marks the indices of seq that belong to one longest
// strictly increasing subsequence.
func longestIncreasing(seq []int) []bool {
	// tails[k] is the index in seq of the smallest tail of an increasing
	// run of length k+1.
	var tails []int
	prev := make([]int, len(seq))
	for i, v := range seq {
		k := sort.Search(len(tails), func(j int) bool { return seq[tails[j]] >= v })
		if k > 0 {
			prev[i] = tails[k-1]
		} else {
			prev[i] = -1
		}
		if k == len(tails) {
			tails = append(tails, i)
		} else {
			tails[k] = i
		}
	}

	marks := make([]bool, len(seq))
	if len(tails) == 0 {
		return marks
	}
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		marks[i] = true
	}
	return marks
}
