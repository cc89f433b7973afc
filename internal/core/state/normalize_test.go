package state

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	type point struct{ X, Y int }

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"string", "a", "a"},
		{"int", 3, int64(3)},
		{"int32", int32(-4), int64(-4)},
		{"small uint", uint(7), int64(7)},
		{"large uint64", uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{"float32", float32(0.5), 0.5},
		{"typed slice", []string{"a", "b"}, []any{"a", "b"}},
		{"array", [2]int{1, 2}, []any{int64(1), int64(2)}},
		{"bytes kept", []byte("hi"), []byte("hi")},
		{"typed map", map[string]int{"n": 1}, map[string]any{"n": int64(1)}},
		{"nested", map[string]any{"tags": []string{"x"}, "deep": State{"k": 2}},
			map[string]any{"tags": []any{"x"}, "deep": map[string]any{"k": int64(2)}}},
		{"int keyed map kept", map[int]string{1: "a"}, map[int]string{1: "a"}},
		{"struct kept", point{1, 2}, point{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeCopies(t *testing.T) {
	in := map[string]any{"list": []any{"a"}}
	out := Normalize(in).(map[string]any)
	out["list"].([]any)[0] = "changed"
	assert.Equal(t, "a", in["list"].([]any)[0])
}

func TestNormalizeStateNil(t *testing.T) {
	assert.Equal(t, State{}, NormalizeState(nil))
}

func TestEqualComparesNumbersByValue(t *testing.T) {
	assert.True(t, Equal(State{"n": 3, "f": 0.5}, State{"n": float64(3), "f": float32(0.5)}))
	assert.True(t, Equal([]any{int64(1), uint8(2)}, []any{1.0, 2}))
	assert.False(t, Equal(State{"n": 3}, State{"n": 3.5}))
	assert.False(t, Equal(State{"n": 3}, State{"n": "3"}))
}

func TestApplyNormalizesMergedFields(t *testing.T) {
	s := NewSchema(WithField("log", AppendReducer{}))
	got := s.Apply(State{"keep": []string{"untouched"}}, Update{
		"tags": []string{"a"},
		"n":    3,
		"log":  []string{"x", "y"},
	})
	assert.Equal(t, []any{"a"}, got["tags"])
	assert.Equal(t, int64(3), got["n"])
	assert.Equal(t, []any{"x", "y"}, got["log"])
	assert.Equal(t, []string{"untouched"}, got["keep"], "fields without updates are carried over")
}
