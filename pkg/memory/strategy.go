// Package memory chooses among a fully-buffered read, a memory-mapped
// read, and a bounded streaming read based on input size and an estimated
// memory budget. The choice is a runtime decision made once per
// operation, never a type the caller picks directly.
package memory

import (
	"os"

	"github.com/hocestnonsatis/parallel-mengene/pkg/chunker"
	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
)

// Mode identifies which read path was chosen for an operation.
type Mode int

const (
	Buffered Mode = iota
	Mapped
	Streaming
)

func (m Mode) String() string {
	switch m {
	case Buffered:
		return "buffered"
	case Mapped:
		return "mapped"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

const (
	// bufferedCeiling is the largest input read wholesale into one buffer.
	bufferedCeiling = 8 << 20 // 8 MiB

	// BudgetFraction is the default fraction of physical RAM used as the
	// memory budget when the caller doesn't override it via
	// pipeline.Options.MemoryBudgetBytes.
	BudgetFraction = 0.25

	// fallbackBudget is used when physical memory cannot be determined
	// (platforms without a Sysinfo-style syscall).
	fallbackBudget = 2 << 30 // 2 GiB
)

// DecideMode picks a Mode for an input of the given size against budget
// bytes. An input larger than the budget always streams, even when it is
// under the buffered ceiling.
func DecideMode(size int64, budget int64) Mode {
	switch {
	case size > budget:
		return Streaming
	case size <= bufferedCeiling:
		return Buffered
	default:
		return Mapped
	}
}

// DefaultBudget returns BudgetFraction of detected physical memory, or
// fallbackBudget if detection fails.
func DefaultBudget() int64 {
	total := totalPhysicalMemory()
	if total <= 0 {
		return fallbackBudget
	}
	return int64(float64(total) * BudgetFraction)
}

// Chunk is a span of input bytes ready for the worker pool to compress.
// Data may alias shared memory (mapped mode) or be an owned copy (buffered,
// streaming); the worker pool never mutates it, only reads.
type Chunk struct {
	Span chunker.Span
	Data []byte
}

// Result is delivered over a Source's channel: either a Chunk or the error
// that stopped further production.
type Result struct {
	Chunk Chunk
	Err   error
}

// Source abstracts the chosen read path behind a uniform producer.
type Source interface {
	Mode() Mode
	Size() int64

	// Chunks starts producing spans in ascending order over the returned
	// channel, honoring prefetchDepth as the channel's buffer size. Closing
	// cancel stops production early; the channel is always closed when
	// production ends, whether by completion, error, or cancellation.
	Chunks(spans []chunker.Span, prefetchDepth int, cancel <-chan struct{}) <-chan Result

	Close() error
}

// Open selects a Source for path given budget bytes, per DecideMode.
func Open(path string, size int64, budget int64) (Source, error) {
	mode := DecideMode(size, budget)

	switch mode {
	case Buffered:
		return openBuffered(path, size)
	case Mapped:
		src, err := openMapped(path, size)
		if err != nil {
			// Falling back to buffered keeps the operation correct even
			// when mmap is unavailable (e.g. a filesystem that refuses
			// MAP_PRIVATE); mapped mode is a performance choice, not a
			// semantic one.
			return openBuffered(path, size)
		}
		return src, nil
	default:
		return openStreaming(path, size)
	}
}

func openBuffered(path string, size int64) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pmerr.Wrap("memory.openBuffered", pmerr.KindIO, err)
	}
	defer func() { _ = f.Close() }()

	data := make([]byte, size)
	if _, err := readFull(f, data); err != nil {
		return nil, pmerr.Wrap("memory.openBuffered", pmerr.KindIO, err)
	}
	return &bufferedSource{data: data}, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

type bufferedSource struct {
	data []byte
}

func (s *bufferedSource) Mode() Mode  { return Buffered }
func (s *bufferedSource) Size() int64 { return int64(len(s.data)) }
func (s *bufferedSource) Close() error {
	return nil
}

func (s *bufferedSource) Chunks(spans []chunker.Span, prefetchDepth int, cancel <-chan struct{}) <-chan Result {
	out := make(chan Result, prefetchDepth)
	go func() {
		defer close(out)
		for _, span := range spans {
			chunk := Chunk{Span: span, Data: s.data[span.Offset : span.Offset+span.Length]}
			select {
			case out <- Result{Chunk: chunk}:
			case <-cancel:
				return
			}
		}
	}()
	return out
}

// streamingSource sequentially reads each span from disk as it is
// requested, bounded by prefetchDepth, so memory never holds more than
// prefetchDepth chunks at once, backpressured against worker progress.
type streamingSource struct {
	f    *os.File
	size int64
}

func openStreaming(path string, size int64) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pmerr.Wrap("memory.openStreaming", pmerr.KindIO, err)
	}
	return &streamingSource{f: f, size: size}, nil
}

func (s *streamingSource) Mode() Mode  { return Streaming }
func (s *streamingSource) Size() int64 { return s.size }
func (s *streamingSource) Close() error {
	return s.f.Close()
}

func (s *streamingSource) Chunks(spans []chunker.Span, prefetchDepth int, cancel <-chan struct{}) <-chan Result {
	out := make(chan Result, prefetchDepth)
	go func() {
		defer close(out)
		for _, span := range spans {
			buf := make([]byte, span.Length)
			if _, err := s.f.ReadAt(buf, span.Offset); err != nil {
				select {
				case out <- Result{Err: pmerr.Wrap("memory.streamingSource.Chunks", pmerr.KindIO, err)}:
				case <-cancel:
				}
				return
			}
			select {
			case out <- Result{Chunk: Chunk{Span: span, Data: buf}}:
			case <-cancel:
				return
			}
		}
	}()
	return out
}
