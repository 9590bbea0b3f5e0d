// Package archive implements the PMA container format: a fixed header,
// a packed metadata section, contiguous chunk frames, and an optional
// whole-archive CRC32 trailer. Serialization uses packed encoding/binary
// structs rather than a self-describing nested format.
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hocestnonsatis/parallel-mengene/pkg/codec"
	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
)

// Magic is the literal four-byte PMA signature.
var Magic = [4]byte{'P', 'M', 'A', 0x01}

// FormatVersion is the only version this package understands.
const FormatVersion uint16 = 1

// Flag bits in FixedHeader.Flags.
const (
	FlagHasTrailerCRC uint16 = 1 << 0
)

// Inner format tags, recorded in Metadata so the reader knows whether the
// decompressed bytes are a raw file or a directory-packing TAR stream.
const (
	InnerFormatRaw uint8 = 0
	InnerFormatTar uint8 = 1
)

const fixedHeaderSize = 4 + 2 + 2 + 4 // magic + version + flags + metadata_length

// FixedHeader is the 12-byte prefix of every PMA archive.
type FixedHeader struct {
	Magic          [4]byte
	Version        uint16
	Flags          uint16
	MetadataLength uint32
}

// Metadata is the packed section immediately following FixedHeader.
type Metadata struct {
	Algorithm       codec.Algorithm
	Level           uint8
	WorkerCount     uint16
	ChunkCount      uint32
	OriginalSize    uint64
	CreatedUnixSecs uint64
	InnerFormatTag  uint8
	Filename        string
}

// ChunkFrame is one compressed chunk's on-disk record.
type ChunkFrame struct {
	UncompressedSize uint32
	CompressedSize   uint32
	Payload          []byte
	CRC32            uint32
}

// encodeHeader writes FixedHeader in its exact on-disk byte layout.
func encodeHeader(w io.Writer, h FixedHeader) error {
	if _, err := w.Write(h.Magic[:]); err != nil {
		return err
	}
	for _, v := range []interface{}{h.Version, h.Flags, h.MetadataLength} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func decodeHeader(r io.Reader) (FixedHeader, error) {
	var h FixedHeader
	if _, err := io.ReadFull(r, h.Magic[:]); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Flags); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.MetadataLength); err != nil {
		return h, err
	}
	return h, nil
}

// encodeMetadata packs Metadata into its on-disk layout and returns the bytes.
// The caller uses len(result) as FixedHeader.MetadataLength.
func encodeMetadata(m Metadata) ([]byte, error) {
	var buf bytes.Buffer
	fields := []interface{}{
		uint8(m.Algorithm),
		m.Level,
		m.WorkerCount,
		m.ChunkCount,
		m.OriginalSize,
		m.CreatedUnixSecs,
		m.InnerFormatTag,
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}

	nameBytes := []byte(m.Filename)
	if len(nameBytes) > 0xFFFF {
		return nil, pmerr.New("archive.encodeMetadata", pmerr.KindInvalidInput, "filename too long")
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(nameBytes))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(nameBytes); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeMetadata parses the fixed fields, then the filename, then ignores
// any remaining bytes, for forward compatibility.
func decodeMetadata(data []byte) (Metadata, error) {
	r := bytes.NewReader(data)
	var m Metadata

	var algTag, level, innerTag uint8
	var workerCount uint16
	var chunkCount uint32
	var originalSize, createdUnix uint64

	for _, target := range []interface{}{&algTag, &level, &workerCount, &chunkCount, &originalSize, &createdUnix, &innerTag} {
		if err := binary.Read(r, binary.LittleEndian, target); err != nil {
			return m, pmerr.Wrap("archive.decodeMetadata", pmerr.KindCorrupt, err)
		}
	}

	alg, err := codec.ParseAlgorithm(algTag)
	if err != nil {
		return m, pmerr.Wrap("archive.decodeMetadata", pmerr.KindCorrupt, err)
	}

	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return m, pmerr.Wrap("archive.decodeMetadata", pmerr.KindCorrupt, err)
	}
	if int(nameLen) > r.Len() {
		return m, pmerr.New("archive.decodeMetadata", pmerr.KindCorrupt, "metadata truncated")
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return m, pmerr.Wrap("archive.decodeMetadata", pmerr.KindCorrupt, err)
	}

	m.Algorithm = alg
	m.Level = level
	m.WorkerCount = workerCount
	m.ChunkCount = chunkCount
	m.OriginalSize = originalSize
	m.CreatedUnixSecs = createdUnix
	m.InnerFormatTag = innerTag
	m.Filename = string(name)

	// Trailing bytes (forward-compatible extension fields) are
	// intentionally ignored: the reader only consumes what it
	// understands.
	return m, nil
}

func encodeFrameHeader(w io.Writer, uncompressedSize, compressedSize uint32) error {
	if err := binary.Write(w, binary.LittleEndian, uncompressedSize); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, compressedSize)
}

func decodeFrameHeader(r io.Reader) (uncompressedSize, compressedSize uint32, err error) {
	if err = binary.Read(r, binary.LittleEndian, &uncompressedSize); err != nil {
		return
	}
	err = binary.Read(r, binary.LittleEndian, &compressedSize)
	return
}

func writeCRC(w io.Writer, crc uint32) error {
	return binary.Write(w, binary.LittleEndian, crc)
}

func readCRC(r io.Reader) (uint32, error) {
	var crc uint32
	err := binary.Read(r, binary.LittleEndian, &crc)
	return crc, err
}

func validateMagic(got [4]byte) error {
	if got != Magic {
		return pmerr.New("archive.validateMagic", pmerr.KindCorrupt,
			fmt.Sprintf("bad magic: %x", got))
	}
	return nil
}
