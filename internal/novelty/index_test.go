package novelty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityIndex_DimensionChange(t *testing.T) {
	x := newSimilarityIndex(2)
	x.add("a", []float32{1, 0})
	x.add("b", []float32{0, 1, 0})

	assert.Equal(t, 1, x.len(), "graph keeps the first dimension only")

	key, sim := x.nearest([]float32{0, 2, 0})
	assert.Equal(t, "b", key, "recent layer still matches the other dimension")
	assert.InDelta(t, 1.0, sim, 1e-6)

	key, sim = x.nearest([]float32{3, 0})
	assert.Equal(t, "a", key)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestSimilarityIndex_Empty(t *testing.T) {
	x := newSimilarityIndex(4)
	key, sim := x.nearest([]float32{1, 0})
	assert.Empty(t, key)
	assert.Zero(t, sim)

	x.add("zero", []float32{0, 0})
	assert.Zero(t, x.len())
	key, _ = x.nearest([]float32{0, 0})
	assert.Empty(t, key)
}

func TestRing_EvictsOldest(t *testing.T) {
	r := newRing(2)
	r.add("a", []float32{1, 0})
	r.add("b", []float32{0, 1})
	r.add("c", []float32{0, 1})

	key, sim := r.nearest([]float32{1, 0})
	assert.Empty(t, key)
	assert.Zero(t, sim)
	assert.Len(t, r.entries, 2)
}
