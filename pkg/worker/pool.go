// Package worker implements the worker pool and ordering scheme: parallel
// goroutines compress or decompress independent chunks bounded by a
// semaphore, a reorder buffer holds out-of-order completions, and a
// single consumer emits results in strictly ascending chunk index. The
// same pool shape serves both compression (CompressSource) and
// decompression (DecompressFrames).
package worker

import (
	"context"
	"hash/crc32"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hocestnonsatis/parallel-mengene/pkg/chunker"
	"github.com/hocestnonsatis/parallel-mengene/pkg/codec"
	"github.com/hocestnonsatis/parallel-mengene/pkg/memory"
	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
)

// Outcome is one chunk's processed result, carrying enough to build (or
// verify) a ChunkFrame.
type Outcome struct {
	Span              chunker.Span
	UncompressedSize  uint32
	CompressedPayload []byte
	CRC32             uint32
	Err               error
}

// Options configures a single CompressSource invocation.
type Options struct {
	Algorithm     codec.Algorithm
	Level         int
	WorkerCount   int
	VerifyOnWrite bool
	Logger        *slog.Logger
	// Cancel, when closed, stops the pool at the next chunk boundary:
	// in-flight chunks finish, no new chunk starts, and the returned
	// channel closes without emitting further Outcomes.
	Cancel <-chan struct{}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// CompressSource fans src's chunks out across at most o.WorkerCount
// concurrent goroutines (bounded by a semaphore.Weighted, one permit per
// in-flight chunk), compresses each with o.Algorithm/o.Level, and returns
// outcomes in strictly ascending span index over the returned channel.
// The returned func reports the first error observed (by chunk index)
// once the channel is drained and closed; it is nil otherwise.
func CompressSource(src memory.Source, spans []chunker.Span, o Options) (<-chan Outcome, func() error) {
	internalCancel := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var firstErr error
	firstErrIndex := -1

	recordErr := func(index int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			return
		}
		if firstErrIndex == -1 || index < firstErrIndex {
			firstErr = err
			firstErrIndex = index
		}
		once.Do(func() { close(internalCancel) })
	}

	combinedCancel := mergeCancel(o.Cancel, internalCancel)

	workerCount := o.WorkerCount
	if workerCount < 1 {
		workerCount = 1
	}
	prefetch := 2 * workerCount

	in := src.Chunks(spans, prefetch, combinedCancel)
	resultCh := make(chan Outcome, prefetch)

	ctx, cancelCtx := context.WithCancel(context.Background())
	go func() {
		select {
		case <-combinedCancel:
			cancelCtx()
		case <-ctx.Done():
		}
	}()

	sem := semaphore.NewWeighted(int64(workerCount))
	group, gctx := errgroup.WithContext(ctx)

	// Dispatch runs in its own goroutine so the reorder consumer below is
	// already draining resultCh while further chunks are handed out.
	go func() {
	loop:
		for {
			select {
			case res, ok := <-in:
				if !ok {
					break loop
				}
				if err := sem.Acquire(gctx, 1); err != nil {
					break loop
				}
				res := res
				group.Go(func() error {
					defer sem.Release(1)
					if res.Err != nil {
						recordErr(res.Chunk.Span.Index, res.Err)
						resultCh <- Outcome{Span: res.Chunk.Span, Err: res.Err}
						return nil
					}
					outcome := compressOne(res.Chunk, o)
					if outcome.Err != nil {
						recordErr(outcome.Span.Index, outcome.Err)
					}
					resultCh <- outcome
					return nil
				})
			case <-combinedCancel:
				break loop
			}
		}

		_ = group.Wait()
		cancelCtx()
		close(resultCh)
	}()

	ordered := reorder(resultCh, len(spans), combinedCancel)

	return ordered, func() error {
		mu.Lock()
		defer mu.Unlock()
		return firstErr
	}
}

func compressOne(chunk memory.Chunk, o Options) Outcome {
	payload, err := codec.Compress(o.Algorithm, o.Level, chunk.Data)
	if err != nil {
		return Outcome{Span: chunk.Span, Err: err}
	}

	if o.VerifyOnWrite {
		back, err := codec.Decompress(o.Algorithm, payload, len(chunk.Data))
		if err != nil {
			return Outcome{Span: chunk.Span, Err: pmerr.Wrap("worker.compressOne.verify", pmerr.KindCompression, err)}
		}
		if !bytesEqual(back, chunk.Data) {
			return Outcome{Span: chunk.Span, Err: pmerr.New("worker.compressOne.verify", pmerr.KindCompression,
				"re-decompressed chunk does not match source bytes")}
		}
	}

	o.logger().Debug("chunk compressed", "index", chunk.Span.Index, "in", len(chunk.Data), "out", len(payload))

	return Outcome{
		Span:              chunk.Span,
		UncompressedSize:  uint32(len(chunk.Data)),
		CompressedPayload: payload,
		CRC32:             crc32.ChecksumIEEE(chunk.Data),
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// reorder buffers out-of-order Outcomes and re-emits them in strictly
// ascending Span.Index order. Its buffer has no fixed capacity ceiling: if
// a result arrives far ahead of the next-to-emit index, it is still
// accepted and held. Backpressure is on the reader, not the writer.
func reorder(in <-chan Outcome, total int, cancel <-chan struct{}) <-chan Outcome {
	out := make(chan Outcome)
	go func() {
		defer close(out)
		pending := make(map[int]Outcome)
		next := 0
		emitted := 0

		flush := func() bool {
			for {
				outcome, ok := pending[next]
				if !ok {
					return true
				}
				delete(pending, next)
				select {
				case out <- outcome:
				case <-cancel:
					return false
				}
				next++
				emitted++
				if outcome.Err != nil {
					return false
				}
			}
		}

		for {
			if total > 0 && emitted >= total {
				return
			}
			select {
			case outcome, ok := <-in:
				if !ok {
					return
				}
				pending[outcome.Span.Index] = outcome
				if !flush() {
					return
				}
			case <-cancel:
				return
			}
		}
	}()
	return out
}

func mergeCancel(a, b <-chan struct{}) <-chan struct{} {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case <-a:
		case <-b:
		}
	}()
	return out
}
