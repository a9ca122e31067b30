package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSet(t *testing.T) {
	t.Run("empty set", func(t *testing.T) {
		assert.Empty(t, NewSet[int]())
	})

	t.Run("duplicate elements collapse", func(t *testing.T) {
		s := NewSet("HYPE", "USDC", "HYPE")
		assert.Len(t, s, 2)
		assert.True(t, s.Has("HYPE"))
		assert.True(t, s.Has("USDC"))
	})
}

func TestSet_AddDelete(t *testing.T) {
	s := NewSet[string]()

	s.Add("a", "b", "c")
	s.Delete("b", "missing")

	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("b"))
	assert.True(t, s.Has("c"))
	assert.ElementsMatch(t, []string{"a", "c"}, s.ToSlice())
}

func TestSorted(t *testing.T) {
	t.Run("returns ascending order", func(t *testing.T) {
		assert.Equal(t, []string{"HYPE", "USDC", "WETH"}, Sorted(NewSet("WETH", "USDC", "HYPE")))
	})

	t.Run("empty set", func(t *testing.T) {
		assert.Empty(t, Sorted(NewSet[int]()))
	})
}
