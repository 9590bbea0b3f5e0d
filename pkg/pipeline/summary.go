package pipeline

import (
	"time"

	"github.com/hocestnonsatis/parallel-mengene/pkg/codec"
)

// Summary reports what a compress_file/decompress_file call did.
type Summary struct {
	InputSize   int64
	OutputSize  int64
	Elapsed     time.Duration
	Algorithm   codec.Algorithm
	Level       int
	WorkerCount int
	ChunkCount  int
}

// Throughput returns effective bytes/sec over InputSize and Elapsed,
// following the same small-derived-value-method idiom five82-reel uses on
// ChunkComp/ResumeInf (TotalEncodedSize, TotalEncodedFrames).
func (s Summary) Throughput() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.InputSize) / secs
}
