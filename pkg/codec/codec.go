// Package codec provides a uniform compress/decompress surface over the
// three block-mode byte-stream compressors Parallel-Mengene ships with:
// LZ4, Gzip, and Zstd. Each algorithm is a closed tagged variant with its
// own valid level range; callers never touch the underlying library types
// directly.
package codec

import (
	"sync"

	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
)

// Algorithm identifies a supported block compressor. The numeric values
// match the on-disk algorithm_tag field in the PMA metadata section, so
// they must never be renumbered.
type Algorithm uint8

const (
	LZ4  Algorithm = 1
	Gzip Algorithm = 2
	Zstd Algorithm = 3
)

func (a Algorithm) String() string {
	switch a {
	case LZ4:
		return "lz4"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a tag byte read from an archive back to an Algorithm.
func ParseAlgorithm(tag uint8) (Algorithm, error) {
	switch Algorithm(tag) {
	case LZ4, Gzip, Zstd:
		return Algorithm(tag), nil
	default:
		return 0, pmerr.New("codec.ParseAlgorithm", pmerr.KindInvalidInput,
			"unknown algorithm tag")
	}
}

// levelRange describes the inclusive [min, max] level window and the
// default level used when the caller doesn't specify one.
type levelRange struct {
	min, def, max int
}

var ranges = map[Algorithm]levelRange{
	LZ4:  {min: 1, def: 1, max: 16},
	Gzip: {min: 1, def: 6, max: 9},
	Zstd: {min: 1, def: 3, max: 22},
}

// DefaultLevel returns the documented default level for algorithm a.
func DefaultLevel(a Algorithm) int {
	return ranges[a].def
}

// ValidateLevel checks level against a's documented range.
func ValidateLevel(a Algorithm, level int) error {
	r, ok := ranges[a]
	if !ok {
		return pmerr.New("codec.ValidateLevel", pmerr.KindInvalidInput, "unknown algorithm")
	}
	if level < r.min || level > r.max {
		return pmerr.New("codec.ValidateLevel", pmerr.KindInvalidInput,
			"level out of range for algorithm "+a.String())
	}
	return nil
}

// Codec is the per-algorithm compress/decompress contract. Implementations
// must be safe for concurrent use by multiple goroutines, since the worker
// pool calls Compress from every worker simultaneously.
type Codec interface {
	// Compress returns the compressed form of src at the given level.
	// The package-level Compress returns an empty, non-nil slice for an
	// empty src without calling any Codec, so implementations only ever
	// see non-empty input from it.
	Compress(level int, src []byte) ([]byte, error)

	// Decompress returns the decompressed form of src. sizeHint, when
	// non-zero, is used to pre-size the output buffer; it is advisory,
	// not authoritative (the implementation is never allowed to trust it
	// blindly for bounds it cannot otherwise verify).
	Decompress(src []byte, sizeHint int) ([]byte, error)
}

// resourcePools caches per-(algorithm, level) sync.Pools for codecs whose
// underlying library objects (encoders, compressors) are too expensive to
// allocate per chunk. Keyed by a plain struct rather than a per-algorithm
// map, so every codec shares one dispatch table instead of inventing its
// own caching mechanism.
var resourcePools sync.Map // poolKey -> *sync.Pool

type poolKey struct {
	algorithm Algorithm
	level     int
}

// pooledResource returns the sync.Pool for (a, level), creating it with
// newFn on first use. Concurrent first-use races are resolved by
// LoadOrStore, so newFn may run more than once but only one result is
// ever kept.
func pooledResource(a Algorithm, level int, newFn func() interface{}) *sync.Pool {
	key := poolKey{algorithm: a, level: level}
	if p, ok := resourcePools.Load(key); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{New: newFn}
	actual, _ := resourcePools.LoadOrStore(key, p)
	return actual.(*sync.Pool)
}

// For selects the Codec implementation for algorithm a.
func For(a Algorithm) (Codec, error) {
	switch a {
	case LZ4:
		return lz4Codec{}, nil
	case Gzip:
		return gzipCodec{}, nil
	case Zstd:
		return zstdCodec{}, nil
	default:
		return nil, pmerr.New("codec.For", pmerr.KindInvalidInput, "unknown algorithm")
	}
}

// Compress validates level then dispatches to the algorithm's Codec.
func Compress(a Algorithm, level int, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	if err := ValidateLevel(a, level); err != nil {
		return nil, err
	}
	c, err := For(a)
	if err != nil {
		return nil, err
	}
	out, err := c.Compress(level, src)
	if err != nil {
		return nil, pmerr.Wrap("codec.Compress", pmerr.KindCompression, err)
	}
	return out, nil
}

// Decompress dispatches to the algorithm's Codec.
func Decompress(a Algorithm, src []byte, sizeHint int) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	c, err := For(a)
	if err != nil {
		return nil, err
	}
	out, err := c.Decompress(src, sizeHint)
	if err != nil {
		return nil, pmerr.Wrap("codec.Decompress", pmerr.KindDecompression, err)
	}
	return out, nil
}
