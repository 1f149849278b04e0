package harness

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats a result as the golden trace: a header, one line per
// flow call, then the notices raised.
//
//	# drop_conflict_reverts
//	reorder_item S1 {"before":true,"item":3,"ref":1,"shelf":"S1"} [g-1] -> CONFLICT PositionConflict
//	get_shelf S1 {"shelf":"S1"} [g-1] -> ok
//	notice S1 reorder_items CONFLICT
func Render(name string, result *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", name)
	for _, ev := range result.Trace {
		buf.WriteString(ev.String())
		buf.WriteByte('\n')
	}
	for _, n := range result.Notices {
		fmt.Fprintf(&buf, "notice %s %s", n.Shelf, n.Op)
		if n.Kind != "" {
			fmt.Fprintf(&buf, " %s", n.Kind)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// RunWithGolden runs a scenario and compares its trace against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(context.Background(), s)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, s.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Render(name, result))
}
