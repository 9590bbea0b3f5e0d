package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkSizeBounds(t *testing.T) {
	assert.Equal(t, int64(MinChunkSize), ChunkSize(1, 4))
	assert.Equal(t, int64(MinChunkSize), ChunkSize(MinChunkSize, 4))

	size := ChunkSize(100<<20, 4)
	assert.GreaterOrEqual(t, size, int64(MinChunkSize))
	assert.LessOrEqual(t, size, int64(MaxChunkSize))

	huge := ChunkSize(100<<30, 4)
	assert.Equal(t, int64(MaxChunkSize), huge)
}

func TestChunkSizeIsPowerOfTwo(t *testing.T) {
	size := ChunkSize(64<<20, 8)
	assert.Equal(t, size, roundToPowerOfTwo(size), "ChunkSize must already be a power of two")
}

func TestChunkSizeClampsWorkerCount(t *testing.T) {
	a := ChunkSize(10<<20, 0)
	b := ChunkSize(10<<20, 1)
	assert.Equal(t, a, b, "worker count <1 should clamp to 1")
}

func TestPlanEmptyInput(t *testing.T) {
	assert.Empty(t, Plan(0, MinChunkSize))
	assert.Empty(t, Plan(-1, MinChunkSize))
}

func TestPlanExactMultiple(t *testing.T) {
	spans := Plan(4*MinChunkSize, MinChunkSize)
	if assert.Len(t, spans, 4) {
		for i, s := range spans {
			assert.Equal(t, i, s.Index)
			assert.Equal(t, int64(i*MinChunkSize), s.Offset)
			assert.Equal(t, int64(MinChunkSize), s.Length)
		}
	}
}

func TestPlanOffByOne(t *testing.T) {
	spans := Plan(MinChunkSize+1, MinChunkSize)
	a := assert.New(t)
	a.Len(spans, 2)
	a.Equal(int64(MinChunkSize), spans[0].Length)
	a.Equal(int64(1), spans[1].Length)
	a.Equal(int64(MinChunkSize), spans[1].Offset)
}

func TestPlanSingleByte(t *testing.T) {
	spans := Plan(1, MinChunkSize)
	if assert.Len(t, spans, 1) {
		assert.Equal(t, int64(1), spans[0].Length)
	}
}

func TestPlanCoversWholeInput(t *testing.T) {
	const total = 10*MinChunkSize + 777
	spans := Plan(total, MinChunkSize)

	var covered int64
	for i, s := range spans {
		assert.Equal(t, covered, s.Offset)
		covered += s.Length
		assert.Equal(t, i, s.Index)
	}
	assert.Equal(t, int64(total), covered)
}
