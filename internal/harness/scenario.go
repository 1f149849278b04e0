package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario drives a client engine against a fresh ledger: setup steps
// build authority state, flow steps are traced and checked, and
// assertions validate the final local and authority state.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Principal the client acts as. Defaults to "alice".
	Principal string `yaml:"principal,omitempty"`

	// Gesture is the fixed id given to every reorder gesture. Defaults to
	// "test-gesture-default".
	Gesture string `yaml:"gesture,omitempty"`

	// Setup steps must succeed; their calls are not traced.
	Setup []Step `yaml:"setup,omitempty"`

	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step runs one client or ledger operation.
type Step struct {
	// Do names the operation, e.g. "drop" or "add_item".
	Do string `yaml:"do"`

	Args map[string]any `yaml:"args"`

	// Fail scripts authority faults that apply from this step on.
	Fail []Fault `yaml:"fail,omitempty"`

	// Expect checks the step's result. Nil expects success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Fault makes the authority fail an operation. An empty Tag fails as if
// the authority were unreachable.
type Fault struct {
	Op     string `yaml:"op"`
	Tag    string `yaml:"tag,omitempty"`
	Always bool   `yaml:"always,omitempty"`
}

// Expect describes a step's result.
type Expect struct {
	// Error is the expected error kind (e.g. "CONFLICT"), or empty for
	// success.
	Error string `yaml:"error,omitempty"`

	// Outcome is the expected gesture outcome for drop, move and reorder.
	Outcome string `yaml:"outcome,omitempty"`

	// Applied is the expected number of applied moves for reorder.
	Applied *int `yaml:"applied,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Op is the gateway operation (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Shelf and Dimension select an order (order, ledger_order) or narrow
	// trace_contains.
	Shelf     string `yaml:"shelf,omitempty"`
	Dimension string `yaml:"dimension,omitempty"`

	// Outcome narrows trace_contains to calls that ended this way.
	Outcome string `yaml:"outcome,omitempty"`

	// Expect is the expected order, as ids.
	Expect []string `yaml:"expect,omitempty"`

	// Count is used by trace_count and notices.
	Count int `yaml:"count,omitempty"`

	// Ops is the expected op order for trace_order.
	Ops []string `yaml:"ops,omitempty"`

	// Unstable is the expected rebalance state for the rebalance assertion.
	Unstable bool `yaml:"unstable,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertOrder         = "order"
	AssertLedgerOrder   = "ledger_order"
	AssertNotices       = "notices"
	AssertRebalance     = "rebalance"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos do not silently skip checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

var knownSteps = map[string]bool{
	"create_shelf":   true,
	"update_shelf":   true,
	"add_item":       true,
	"remove_item":    true,
	"drop":           true,
	"move":           true,
	"reorder":        true,
	"load_shelf":     true,
	"list_shelves":   true,
	"mark_rebalance": true,
	"rebalance":      true,
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot have expect", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Do == "" {
		return fmt.Errorf("do is required")
	}
	if !knownSteps[step.Do] {
		return fmt.Errorf("unknown step %q", step.Do)
	}
	for j, f := range step.Fail {
		if f.Op == "" {
			return fmt.Errorf("fail[%d]: op is required", j)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("op is required for trace_contains")
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("ops list is required for trace_order")
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("op is required for trace_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for trace_count")
		}
	case AssertOrder, AssertLedgerOrder:
		if a.Shelf == "" {
			return fmt.Errorf("shelf is required for %s", a.Type)
		}
		if a.Expect == nil {
			return fmt.Errorf("expect is required for %s", a.Type)
		}
	case AssertNotices:
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for notices")
		}
	case AssertRebalance:
		if a.Shelf == "" {
			return fmt.Errorf("shelf is required for rebalance")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
