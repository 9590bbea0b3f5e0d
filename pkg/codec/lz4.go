package codec

import (
	"errors"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// lz4HCLevel maps our documented 1-16 level scale onto pierrec's
// CompressionLevel constants. Level 1 uses the fast (non-HC) compressor:
// already near-random data never pays for high-compression mode. Levels
// 2-16 scale onto lz4's nine HC levels.
func lz4HCLevel(level int) lz4.CompressionLevel {
	switch {
	case level <= 3:
		return lz4.Level1
	case level <= 5:
		return lz4.Level3
	case level <= 7:
		return lz4.Level5
	case level <= 9:
		return lz4.Level6
	case level <= 11:
		return lz4.Level7
	case level <= 13:
		return lz4.Level8
	default:
		return lz4.Level9
	}
}

var fastCompressorPool = sync.Pool{
	New: func() interface{} { return new(lz4.Compressor) },
}

var hcCompressorPools sync.Map // lz4.CompressionLevel -> *sync.Pool

func hcCompressorPool(level lz4.CompressionLevel) *sync.Pool {
	if p, ok := hcCompressorPools.Load(level); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{
		New: func() interface{} { return &lz4.CompressorHC{Level: level} },
	}
	actual, _ := hcCompressorPools.LoadOrStore(level, p)
	return actual.(*sync.Pool)
}

// lz4Codec wraps github.com/pierrec/lz4/v4 in block mode: CompressBlock and
// UncompressBlock operate on one independent block at a time, which is
// exactly the chunk-at-a-time contract the archive format needs.
type lz4Codec struct{}

func (lz4Codec) Compress(level int, src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))

	var n int
	var err error
	if level <= 1 {
		c := fastCompressorPool.Get().(*lz4.Compressor)
		defer fastCompressorPool.Put(c)
		n, err = c.CompressBlock(src, dst)
	} else {
		hcLevel := lz4HCLevel(level)
		pool := hcCompressorPool(hcLevel)
		c := pool.Get().(*lz4.CompressorHC)
		c.Level = hcLevel
		defer pool.Put(c)
		n, err = c.CompressBlock(src, dst)
	}
	if err != nil {
		return nil, err
	}

	// lz4 reports n == 0 when the input was incompressible; store raw in
	// that case rather than an expanded block.
	if n == 0 || n >= len(src) {
		raw := make([]byte, len(src)+1)
		raw[0] = rawMarker
		copy(raw[1:], src)
		return raw, nil
	}

	out := make([]byte, n+1)
	out[0] = compressedMarker
	copy(out[1:], dst[:n])
	return out, nil
}

// rawMarker/compressedMarker distinguish a stored (incompressible) block
// from an actually-compressed one; lz4 block mode carries no self-framing,
// unlike gzip/zstd, so the codec must add the one byte of framing itself.
const (
	compressedMarker byte = 0
	rawMarker        byte = 1
)

func (lz4Codec) Decompress(src []byte, sizeHint int) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	marker, payload := src[0], src[1:]
	if marker == rawMarker {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}

	size := sizeHint
	if size <= 0 {
		size = len(payload) * 3
		if size < 4096 {
			size = 4096
		}
	}

	for attempt := 0; attempt < 8; attempt++ {
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, dst)
		if err == nil {
			return dst[:n], nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) || sizeHint > 0 {
			return nil, err
		}
		size *= 2
	}
	return nil, lz4.ErrInvalidSourceShortBuffer
}
