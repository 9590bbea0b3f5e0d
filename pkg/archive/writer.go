package archive

import (
	"bufio"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
)

// Writer serializes a PMA archive to a temporary path and renames it onto
// the final path only on success, so a reader never observes a partial
// archive.
type Writer struct {
	file      *os.File
	tmpPath   string
	finalPath string
	bw        *bufio.Writer
	out       io.Writer
	crcHash   hash.Hash32
	nextIndex int
	done      bool
}

// NewWriter opens finalPath's temporary companion and writes the fixed
// header and metadata section. trailerCRC controls whether HAS_TRAILER_CRC
// is set and a running whole-archive CRC32 is accumulated.
func NewWriter(finalPath string, meta Metadata, trailerCRC bool) (*Writer, error) {
	tmpPath := fmt.Sprintf("%s.tmp-%d", finalPath, os.Getpid())

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, pmerr.Wrap("archive.NewWriter", pmerr.KindIO, err)
	}

	bw := bufio.NewWriter(f)

	var crcHash hash.Hash32
	var out io.Writer = bw
	if trailerCRC {
		crcHash = crc32.NewIEEE()
		out = io.MultiWriter(bw, crcHash)
	}

	metaBytes, err := encodeMetadata(meta)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}

	var flags uint16
	if trailerCRC {
		flags |= FlagHasTrailerCRC
	}

	header := FixedHeader{
		Magic:          Magic,
		Version:        FormatVersion,
		Flags:          flags,
		MetadataLength: uint32(len(metaBytes)),
	}

	if err := encodeHeader(out, header); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return nil, pmerr.Wrap("archive.NewWriter", pmerr.KindIO, err)
	}
	if _, err := out.Write(metaBytes); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return nil, pmerr.Wrap("archive.NewWriter", pmerr.KindIO, err)
	}

	return &Writer{
		file:      f,
		tmpPath:   tmpPath,
		finalPath: finalPath,
		bw:        bw,
		out:       out,
		crcHash:   crcHash,
	}, nil
}

// WriteFrame appends one chunk frame. index must equal the number of
// frames already written, enforcing strictly-ascending frame order at
// the point bytes actually hit the file.
func (w *Writer) WriteFrame(index int, frame ChunkFrame) error {
	if index != w.nextIndex {
		return pmerr.New("archive.Writer.WriteFrame", pmerr.KindCorrupt,
			fmt.Sprintf("out-of-order frame write: expected %d, got %d", w.nextIndex, index))
	}

	if err := encodeFrameHeader(w.out, frame.UncompressedSize, frame.CompressedSize); err != nil {
		return pmerr.Wrap("archive.Writer.WriteFrame", pmerr.KindIO, err)
	}
	if _, err := w.out.Write(frame.Payload); err != nil {
		return pmerr.Wrap("archive.Writer.WriteFrame", pmerr.KindIO, err)
	}
	if err := writeCRC(w.out, frame.CRC32); err != nil {
		return pmerr.Wrap("archive.Writer.WriteFrame", pmerr.KindIO, err)
	}

	w.nextIndex++
	return nil
}

// Finish writes the optional trailer, flushes, syncs, and atomically
// renames the temporary file onto finalPath.
func (w *Writer) Finish() error {
	if w.crcHash != nil {
		if err := writeCRC(w.bw, w.crcHash.Sum32()); err != nil {
			return pmerr.Wrap("archive.Writer.Finish", pmerr.KindIO, err)
		}
	}
	if err := w.bw.Flush(); err != nil {
		return pmerr.Wrap("archive.Writer.Finish", pmerr.KindIO, err)
	}
	if err := w.file.Sync(); err != nil {
		return pmerr.Wrap("archive.Writer.Finish", pmerr.KindIO, err)
	}
	if err := w.file.Close(); err != nil {
		return pmerr.Wrap("archive.Writer.Finish", pmerr.KindIO, err)
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		return pmerr.Wrap("archive.Writer.Finish", pmerr.KindIO, err)
	}
	w.done = true
	return nil
}

// Abort closes and removes the temporary file, leaving no trace on disk.
// Safe to call after Finish (no-op) or instead of it (on cancellation or
// error).
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	_ = w.file.Close()
	return os.Remove(w.tmpPath)
}
