package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"string", "hello", `"hello"`},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"uint64", uint64(18446744073709551615), "18446744073709551615"},
		{"bool", true, "true"},
		{"empty object", Fields{}, "{}"},
		{"sorted keys", Fields{"zebra": 1, "alpha": 2}, `{"alpha":2,"zebra":1}`},
		{"nested", Fields{"b": map[string]any{"y": 1, "x": []any{"a", false}}}, `{"b":{"x":["a",false],"y":1}}`},
		{"strings slice", []string{"a", "b"}, `["a","b"]`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"line separator kept literal", "a\u2028b", "\"a\u2028b\""},
		{"escaped backslash kept", `\u2028`, `"\\u2028"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_NFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	got, err := Marshal(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "\"Caf\u00e9\"", string(got))
}

func TestMarshal_Rejects(t *testing.T) {
	_, err := Marshal(Fields{"x": 1.5})
	assert.Error(t, err)
	_, err = Marshal(Fields{"x": nil})
	assert.Error(t, err)
	_, err = Marshal(struct{}{})
	assert.Error(t, err)
}

func TestCallID_Deterministic(t *testing.T) {
	args := Fields{"item": uint64(103), "ref": uint64(101), "before": true}
	a, err := CallID("g1", "move_item", "alice", args, 1)
	require.NoError(t, err)
	b, err := CallID("g1", "move_item", "alice", Fields{"before": true, "ref": uint64(101), "item": uint64(103)}, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := CallID("g1", "move_item", "bob", args, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := CallID("g1", "move_item", "alice", args, 2)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestOutcomeID(t *testing.T) {
	a, err := OutcomeID("call", OutcomeOK, nil, 2)
	require.NoError(t, err)
	b, err := OutcomeID("call", "CONFLICT", nil, 2)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = OutcomeID("call", OutcomeOK, Fields{"f": 0.5}, 2)
	assert.Error(t, err)
}
