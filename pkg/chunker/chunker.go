// Package chunker implements the pure chunk-sizing policy: picking a
// chunk size from input length, worker count, and the fixed 64 KiB /
// 16 MiB bounds, then slicing a length into chunk spans. The policy is
// deterministic; same inputs always produce the same chunk size and
// span list, which is what makes archive framing reproducible.
package chunker

const (
	// MinChunkSize is the lower bound: below this, per-frame overhead
	// (sizes, CRC, header) dominates the payload.
	MinChunkSize = 64 * 1024

	// MaxChunkSize is the upper bound: above this, a single chunk removes
	// most of the benefit of parallelism and inflates peak RSS.
	MaxChunkSize = 16 * 1024 * 1024
)

// Span describes one chunk's byte range within the input: [Offset,
// Offset+Length).
type Span struct {
	Index  int
	Offset int64
	Length int64
}

// ChunkSize computes C ≈ max(lower, min(upper, round_to_power_of_two(
// inputSize / (8 * workerCount)))). workerCount is clamped to at least 1.
func ChunkSize(inputSize int64, workerCount int) int64 {
	if workerCount < 1 {
		workerCount = 1
	}
	if inputSize <= MinChunkSize {
		return MinChunkSize
	}

	target := inputSize / int64(8*workerCount)
	size := roundToPowerOfTwo(target)

	if size < MinChunkSize {
		size = MinChunkSize
	}
	if size > MaxChunkSize {
		size = MaxChunkSize
	}
	return size
}

// roundToPowerOfTwo rounds n up to the next power of two, with a floor of
// MinChunkSize. n <= 0 rounds to MinChunkSize.
func roundToPowerOfTwo(n int64) int64 {
	if n <= MinChunkSize {
		return MinChunkSize
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Plan splits an input of the given size into chunk spans using chunkSize.
// If inputSize is 0, Plan returns an empty slice (chunk_count = 0). The
// final span may be shorter than chunkSize.
func Plan(inputSize int64, chunkSize int64) []Span {
	if inputSize <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = MinChunkSize
	}

	count := (inputSize + chunkSize - 1) / chunkSize
	spans := make([]Span, 0, count)
	for i := int64(0); i < count; i++ {
		offset := i * chunkSize
		length := chunkSize
		if offset+length > inputSize {
			length = inputSize - offset
		}
		spans = append(spans, Span{Index: int(i), Offset: offset, Length: length})
	}
	return spans
}
