//go:build linux || darwin

package memory

import (
	"os"
	"syscall"

	"github.com/hocestnonsatis/parallel-mengene/pkg/chunker"
	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
)

// mappedSource memory-maps the input read-only; chunks are slices of the
// map, so no copy happens until a worker compresses the bytes. Grounded on
// the arxos ingestion_optimized.go MMapProcessor, which drives
// syscall.Mmap/Munmap directly rather than through a wrapper library.
type mappedSource struct {
	f    *os.File
	data []byte
}

func openMapped(path string, size int64) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pmerr.Wrap("memory.openMapped", pmerr.KindIO, err)
	}

	if size == 0 {
		return &mappedSource{f: f, data: nil}, nil
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		_ = f.Close()
		return nil, pmerr.Wrap("memory.openMapped", pmerr.KindIO, err)
	}

	return &mappedSource{f: f, data: data}, nil
}

func (s *mappedSource) Mode() Mode  { return Mapped }
func (s *mappedSource) Size() int64 { return int64(len(s.data)) }

func (s *mappedSource) Close() error {
	var mErr error
	if s.data != nil {
		mErr = syscall.Munmap(s.data)
	}
	cErr := s.f.Close()
	if mErr != nil {
		return mErr
	}
	return cErr
}

func (s *mappedSource) Chunks(spans []chunker.Span, prefetchDepth int, cancel <-chan struct{}) <-chan Result {
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
