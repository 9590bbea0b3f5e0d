package codec

import "github.com/klauspost/compress/zstd"

var zstdDecoder, _ = zstd.NewReader(nil)

// zstdCodec wraps github.com/klauspost/compress/zstd in block mode: one
// EncodeAll/DecodeAll call per chunk, no streaming state carried between
// chunks. Encoders are expensive to construct, so Compress borrows one
// from the shared per-(algorithm, level) pool rather than building a new
// one on every call.
type zstdCodec struct{}

func (zstdCodec) Compress(level int, src []byte) ([]byte, error) {
	pool := pooledResource(Zstd, level, func() interface{} {
		enc, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1),
		)
		return enc
	})
	enc := pool.Get().(*zstd.Encoder)
	defer pool.Put(enc)

	return enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

func (zstdCodec) Decompress(src []byte, sizeHint int) ([]byte, error) {
	var dst []byte
	if sizeHint > 0 {
		dst = make([]byte, 0, sizeHint)
	}
	return zstdDecoder.DecodeAll(src, dst)
}
