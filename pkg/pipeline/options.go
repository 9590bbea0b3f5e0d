// Package pipeline implements the top-level coordinator: it owns the
// open input handle/map and the output writer for the duration of one
// compress_file or decompress_file call, wiring together the chunker,
// analyzer, memory strategy, worker pool, and archive reader/writer.
package pipeline

import (
	"log/slog"
	"runtime"

	"github.com/hocestnonsatis/parallel-mengene/pkg/codec"
	"github.com/hocestnonsatis/parallel-mengene/pkg/memory"
)

// Options carries every tunable a caller can set for a compress_file or
// decompress_file call, plus the ambient plumbing (logger, cancellation)
// the core needs.
type Options struct {
	// Algorithm overrides automatic selection. Nil means "run the
	// analyzer".
	Algorithm *codec.Algorithm

	// Level overrides the chosen algorithm's default level. Zero means
	// "use the analyzer's level" when Algorithm is nil, and "use the
	// forced algorithm's documented default" otherwise.
	Level int

	// WorkerCount overrides the default (logical core count). Zero means
	// runtime.NumCPU().
	WorkerCount int

	// MemoryBudgetBytes overrides the default fraction-of-RAM budget.
	// Zero means memory.DefaultBudget().
	MemoryBudgetBytes int64

	// VerifyOnWrite re-decompresses each chunk in-process and compares
	// bytes before the frame is appended.
	VerifyOnWrite bool

	// TrailerCRC controls the HAS_TRAILER_CRC flag. Nil means true.
	TrailerCRC *bool

	// InnerFormatTag is recorded in the archive metadata so a reader knows
	// whether the payload is a raw file or a directory-packing TAR
	// stream. Zero is archive.InnerFormatRaw.
	InnerFormatTag uint8

	// Logger receives structured progress/diagnostic events. Nil means
	// slog.Default().
	Logger *slog.Logger

	// Cancel, when closed, stops the operation at the next chunk boundary
	// and deletes any partial output.
	Cancel <-chan struct{}
}

func (o Options) workerCount() int {
	if o.WorkerCount > 0 {
		return o.WorkerCount
	}
	return runtime.NumCPU()
}

func (o Options) memoryBudget() int64 {
	if o.MemoryBudgetBytes > 0 {
		return o.MemoryBudgetBytes
	}
	return memory.DefaultBudget()
}

func (o Options) trailerCRC() bool {
	if o.TrailerCRC != nil {
		return *o.TrailerCRC
	}
	return true
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
