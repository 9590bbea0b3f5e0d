package worker

import (
	"context"
	"hash/crc32"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hocestnonsatis/parallel-mengene/pkg/codec"
	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
)

// EncodedFrame is one on-disk frame's payload, already read from the
// archive, ready for parallel decompression. The worker package does not
// import the archive package; the pipeline copies each archive.ChunkFrame
// into an EncodedFrame.
type EncodedFrame struct {
	Index            int
	UncompressedSize uint32
	Payload          []byte
	ExpectedCRC32    uint32
}

// DecodedOutcome is one frame's decompressed bytes, or the error that
// decoding it produced.
type DecodedOutcome struct {
	Index int
	Data  []byte
	Err   error
}

// DecompressFrames mirrors CompressSource for the read path: frames are
// fanned out across at most workerCount concurrent goroutines (bounded by
// a semaphore.Weighted), each decompressed and CRC checked independently,
// and results are re-emitted in strictly ascending index order.
func DecompressFrames(frames []EncodedFrame, algorithm codec.Algorithm, workerCount int, cancel <-chan struct{}) (<-chan DecodedOutcome, func() error) {
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

	combined := mergeCancel(cancel, internalCancel)

	if workerCount < 1 {
		workerCount = 1
	}

	resultCh := make(chan DecodedOutcome, 2*workerCount)

	ctx, cancelCtx := context.WithCancel(context.Background())
	go func() {
		select {
		case <-combined:
			cancelCtx()
		case <-ctx.Done():
		}
	}()

	sem := semaphore.NewWeighted(int64(workerCount))
	group, gctx := errgroup.WithContext(ctx)

	// Dispatch runs in its own goroutine so the reorder consumer below is
	// already draining resultCh while further frames are handed out.
	go func() {
	loop:
		for _, f := range frames {
			f := f
			if err := sem.Acquire(gctx, 1); err != nil {
				break loop
			}
			group.Go(func() error {
				defer sem.Release(1)
				out := decodeOne(f, algorithm)
				if out.Err != nil {
					recordErr(out.Index, out.Err)
				}
				resultCh <- out
				return nil
			})
		}

		_ = group.Wait()
		cancelCtx()
		close(resultCh)
	}()

	ordered := reorderDecoded(resultCh, len(frames), combined)

	return ordered, func() error {
		mu.Lock()
		defer mu.Unlock()
		return firstErr
	}
}

func decodeOne(frame EncodedFrame, algorithm codec.Algorithm) DecodedOutcome {
	data, err := codec.Decompress(algorithm, frame.Payload, int(frame.UncompressedSize))
	if err != nil {
		return DecodedOutcome{Index: frame.Index, Err: err}
	}
	if uint32(len(data)) != frame.UncompressedSize {
		return DecodedOutcome{Index: frame.Index, Err: pmerr.New("worker.decodeOne", pmerr.KindDecompression,
			"decompressed size does not match frame header")}
	}
	if crc32.ChecksumIEEE(data) != frame.ExpectedCRC32 {
		return DecodedOutcome{Index: frame.Index, Err: pmerr.New("worker.decodeOne", pmerr.KindDecompression,
			"crc32 mismatch")}
	}
	return DecodedOutcome{Index: frame.Index, Data: data}
}

func reorderDecoded(in <-chan DecodedOutcome, total int, cancel <-chan struct{}) <-chan DecodedOutcome {
	out := make(chan DecodedOutcome)
	go func() {
		defer close(out)
		pending := make(map[int]DecodedOutcome)
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
				pending[outcome.Index] = outcome
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
