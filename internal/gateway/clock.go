package gateway

import (
	"context"
	"sync/atomic"
)

// Clock hands out strictly increasing sequence numbers for journal
// records. Wall time is never used for ordering.
type Clock struct {
	seq atomic.Int64
}

// NewClock starts at 0; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt resumes from a known position, e.g. the last sequence number
// found in the journal.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

type gestureKey struct{}

// WithGesture tags ctx with the id of the user gesture that caused the
// calls made under it.
func WithGesture(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, gestureKey{}, id)
}

// GestureFrom returns the gesture id carried by ctx, or "".
func GestureFrom(ctx context.Context) string {
	id, _ := ctx.Value(gestureKey{}).(string)
	return id
}
