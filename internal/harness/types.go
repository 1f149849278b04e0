package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/perpetua/internal/engine"
)

// TraceEvent is one journaled gateway call and how it ended.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Gesture string `json:"gesture,omitempty"`
	Op      string `json:"op"`
	Shelf   string `json:"shelf,omitempty"`
	Args    string `json:"args"` // canonical JSON
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// String renders the event as one golden trace line.
func (e TraceEvent) String() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Shelf != "" {
		b.WriteString(" " + e.Shelf)
	}
	b.WriteString(" " + e.Args)
	if e.Gesture != "" {
		fmt.Fprintf(&b, " [%s]", e.Gesture)
	}
	b.WriteString(" -> " + e.Outcome)
	if e.Detail != "" {
		b.WriteString(" " + e.Detail)
	}
	return b.String()
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the flow's gateway calls in journal order. Setup calls
	// are not included.
	Trace []TraceEvent `json:"trace"`

	// Notices are the compensation notices raised during the flow.
	Notices []engine.Notice `json:"notices,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
