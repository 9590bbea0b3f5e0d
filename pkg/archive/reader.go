package archive

import (
	"bufio"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
)

// Reader parses a PMA archive's header and metadata eagerly, then serves
// frames one at a time via NextFrame. It does not verify per-frame CRCs
// itself (that happens once a frame's bytes are decompressed, in the
// worker package) but does accumulate and verify the whole-archive
// trailer CRC when present.
type Reader struct {
	file     *os.File
	br       *bufio.Reader
	tee      io.Reader
	crcHash  hash.Hash32
	Header   FixedHeader
	Metadata Metadata

	fileSize   int64
	consumed   int64
	framesRead int
}

// byteCounter is an io.Writer that only tallies how many bytes pass
// through it, used alongside the CRC hash in the reader's tee so every
// byte consumed from the archive is counted without a second read pass.
type byteCounter struct{ n *int64 }

func (c byteCounter) Write(p []byte) (int, error) {
	*c.n += int64(len(p))
	return len(p), nil
}

// remaining reports how many bytes of the file have not yet been consumed
// through the tee. Declared sizes read from the archive (metadata length,
// frame payload length) are checked against this before allocating, so a
// corrupted header claiming an implausible size fails fast instead of
// forcing a multi-gigabyte allocation ahead of the inevitable short read.
func (r *Reader) remaining() int64 {
	return r.fileSize - r.consumed
}

func (r *Reader) checkClaimedSize(op string, claimed int64) error {
	if claimed < 0 || claimed > r.remaining() {
		return pmerr.New(op, pmerr.KindCorrupt, "declared size exceeds remaining archive bytes")
	}
	return nil
}

// Open validates the magic and version, parses metadata, and positions
// the reader at the first frame.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pmerr.Wrap("archive.Open", pmerr.KindIO, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, pmerr.Wrap("archive.Open", pmerr.KindIO, err)
	}

	br := bufio.NewReader(f)
	crcHash := crc32.NewIEEE()

	r := &Reader{
		file:     f,
		br:       br,
		crcHash:  crcHash,
		fileSize: info.Size(),
	}
	r.tee = io.TeeReader(br, io.MultiWriter(crcHash, byteCounter{&r.consumed}))

	header, err := decodeHeader(r.tee)
	if err != nil {
		_ = f.Close()
		return nil, pmerr.Wrap("archive.Open", pmerr.KindCorrupt, err)
	}
	if err := validateMagic(header.Magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if header.Version != FormatVersion {
		_ = f.Close()
		return nil, pmerr.New("archive.Open", pmerr.KindUnsupportedVersion,
			"archive format version is not supported")
	}
	if err := r.checkClaimedSize("archive.Open", int64(header.MetadataLength)); err != nil {
		_ = f.Close()
		return nil, err
	}

	metaBytes := make([]byte, header.MetadataLength)
	if _, err := io.ReadFull(r.tee, metaBytes); err != nil {
		_ = f.Close()
		return nil, pmerr.Wrap("archive.Open", pmerr.KindCorrupt, err)
	}
	meta, err := decodeMetadata(metaBytes)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r.Header = header
	r.Metadata = meta
	return r, nil
}

// HasTrailer reports whether the archive carries a whole-archive CRC32.
func (r *Reader) HasTrailer() bool {
	return r.Header.Flags&FlagHasTrailerCRC != 0
}

// NextFrame reads one ChunkFrame. Callers must call it exactly
// Metadata.ChunkCount times before calling VerifyTrailer/Close.
func (r *Reader) NextFrame() (ChunkFrame, error) {
	uncompressed, compressed, err := decodeFrameHeader(r.tee)
	if err != nil {
		return ChunkFrame{}, pmerr.Wrap("archive.Reader.NextFrame", pmerr.KindCorrupt, err)
	}
	if err := r.checkClaimedSize("archive.Reader.NextFrame", int64(compressed)); err != nil {
		return ChunkFrame{}, err
	}

	payload := make([]byte, compressed)
	if _, err := io.ReadFull(r.tee, payload); err != nil {
		return ChunkFrame{}, pmerr.Wrap("archive.Reader.NextFrame", pmerr.KindCorrupt, err)
	}

	crc, err := readCRC(r.tee)
	if err != nil {
		return ChunkFrame{}, pmerr.Wrap("archive.Reader.NextFrame", pmerr.KindCorrupt, err)
	}

	r.framesRead++
	return ChunkFrame{
		UncompressedSize: uncompressed,
		CompressedSize:   compressed,
		Payload:          payload,
		CRC32:            crc,
	}, nil
}

// VerifyTrailer reads and checks the whole-archive CRC32 trailer, if the
// archive has one. It must be called after all frames have been consumed.
func (r *Reader) VerifyTrailer() error {
	if !r.HasTrailer() {
		return nil
	}

	want := r.crcHash.Sum32()

	// The trailer itself is outside the region it covers, so it is read
	// directly from the buffered reader rather than through the
	// CRC-accumulating tee.
	var got uint32
	if err := readCRCFrom(r.br, &got); err != nil {
		return pmerr.Wrap("archive.Reader.VerifyTrailer", pmerr.KindCorrupt, err)
	}

	if got != want {
		return pmerr.New("archive.Reader.VerifyTrailer", pmerr.KindCorrupt,
			"whole-archive CRC32 mismatch")
	}
	return nil
}

func readCRCFrom(r io.Reader, out *uint32) error {
	v, err := readCRC(r)
	if err != nil {
		return err
	}
	*out = v
	return nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
