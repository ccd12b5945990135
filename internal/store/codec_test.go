package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCodec(t *testing.T) {
	vec := []float32{0, 1, -1, 0.333, float32(math.Inf(1)), math.SmallestNonzeroFloat32}
	buf := encodeEmbedding(vec)
	assert.Len(t, buf, 4*len(vec))

	got, err := decodeEmbedding(buf)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestEmbeddingCodecEmpty(t *testing.T) {
	assert.Nil(t, encodeEmbedding(nil))
	got, err := decodeEmbedding(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeEmbeddingCorrupt(t *testing.T) {
	_, err := decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}
