package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type doc struct {
	Title string
	Tags  []string
	Meta  map[string]any
}

func TestStateCloneIsDeep(t *testing.T) {
	orig := State{
		"list": []any{"a", map[string]any{"k": "v"}},
		"doc":  &doc{Title: "t", Tags: []string{"x"}, Meta: map[string]any{"n": 1}},
		"arr":  []string{"p"},
	}

	c := orig.Clone()
	assert.True(t, orig.Equal(c))

	c["list"].([]any)[1].(map[string]any)["k"] = "changed"
	c["doc"].(*doc).Tags[0] = "changed"
	c["doc"].(*doc).Meta["n"] = 2
	c["arr"].([]string)[0] = "changed"

	assert.Equal(t, "v", orig["list"].([]any)[1].(map[string]any)["k"])
	assert.Equal(t, "x", orig["doc"].(*doc).Tags[0])
	assert.Equal(t, 1, orig["doc"].(*doc).Meta["n"])
	assert.Equal(t, "p", orig["arr"].([]string)[0])
}

func TestStateAccessors(t *testing.T) {
	s := State{"s": "text", "n": float64(3), "l": []string{"a"}}

	assert.Equal(t, "text", s.String("s"))
	assert.Equal(t, "", s.String("n"))

	n, ok := s.Int("n")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	_, ok = s.Int("s")
	assert.False(t, ok)

	assert.Equal(t, []any{"a"}, s.List("l"))
	assert.Equal(t, []string{"l", "n", "s"}, s.Keys())
}

func TestEqualTreatsEmptyAsNil(t *testing.T) {
	assert.True(t, Equal([]any(nil), []any{}))
	assert.True(t, State{"l": []any{}}.Equal(State{"l": []any(nil)}))
	assert.False(t, State{"a": 1}.Equal(State{"a": 2}))
}
