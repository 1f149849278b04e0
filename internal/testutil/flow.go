package testutil

// FixedGestureGenerator generates the same gesture id every time.
//
// Journal records carry the gesture id in their content hash, so a fixed
// id makes scenario runs byte-identical across runs.
//
// Thread-safety: FixedGestureGenerator is stateless and safe for concurrent use.
type FixedGestureGenerator struct {
	id string
}

// NewFixedGestureGenerator creates a generator that always returns id.
// If id is empty, Generate() returns "test-gesture-default".
func NewFixedGestureGenerator(id string) *FixedGestureGenerator {
	if id == "" {
		id = "test-gesture-default"
	}
	return &FixedGestureGenerator{id: id}
}

// Generate returns the fixed gesture id.
func (g *FixedGestureGenerator) Generate() string {
	return g.id
}
