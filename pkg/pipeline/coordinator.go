package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hocestnonsatis/parallel-mengene/pkg/analyzer"
	"github.com/hocestnonsatis/parallel-mengene/pkg/archive"
	"github.com/hocestnonsatis/parallel-mengene/pkg/chunker"
	"github.com/hocestnonsatis/parallel-mengene/pkg/codec"
	"github.com/hocestnonsatis/parallel-mengene/pkg/memory"
	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
	"github.com/hocestnonsatis/parallel-mengene/pkg/worker"
)

// CompressFile reads inputPath, chooses (or honors a forced) algorithm and
// level, splits the input into chunks, compresses them in parallel, and
// writes a PMA archive to outputPath.
func CompressFile(inputPath, outputPath string, opts Options) (Summary, error) {
	const op = "pipeline.CompressFile"
	logger := opts.logger()

	info, err := statRegularFile(op, inputPath)
	if err != nil {
		return Summary{}, err
	}
	size := info.Size()

	algorithm, level, err := resolveSelection(op, inputPath, size, opts)
	if err != nil {
		return Summary{}, err
	}

	workerCount := opts.workerCount()
	chunkSize := chunker.ChunkSize(size, workerCount)
	spans := chunker.Plan(size, chunkSize)

	budget := opts.memoryBudget()
	src, err := memory.Open(inputPath, size, budget)
	if err != nil {
		return Summary{}, pmerr.Wrap(op, pmerr.KindIO, err)
	}
	defer func() { _ = src.Close() }()

	logger.Info("compress start", "input", inputPath, "size", size, "algorithm", algorithm.String(),
		"level", level, "workers", workerCount, "chunks", len(spans), "memory_mode", src.Mode().String())

	meta := archive.Metadata{
		Algorithm:       algorithm,
		Level:           uint8(level),
		WorkerCount:     uint16(workerCount),
		ChunkCount:      uint32(len(spans)),
		OriginalSize:    uint64(size),
		CreatedUnixSecs: uint64(time.Now().Unix()),
		InnerFormatTag:  opts.InnerFormatTag,
		Filename:        filepath.Base(inputPath),
	}

	writer, err := archive.NewWriter(outputPath, meta, opts.trailerCRC())
	if err != nil {
		return Summary{}, err
	}

	start := time.Now()

	workerOpts := worker.Options{
		Algorithm:     algorithm,
		Level:         level,
		WorkerCount:   workerCount,
		VerifyOnWrite: opts.VerifyOnWrite,
		Logger:        logger,
		Cancel:        opts.Cancel,
	}

	outcomes, firstErr := worker.CompressSource(src, spans, workerOpts)

	for outcome := range outcomes {
		if outcome.Err != nil {
			_ = writer.Abort()
			return Summary{}, outcome.Err
		}
		frame := archive.ChunkFrame{
			UncompressedSize: outcome.UncompressedSize,
			CompressedSize:   uint32(len(outcome.CompressedPayload)),
			Payload:          outcome.CompressedPayload,
			CRC32:            outcome.CRC32,
		}
		if err := writer.WriteFrame(outcome.Span.Index, frame); err != nil {
			_ = writer.Abort()
			return Summary{}, err
		}
	}

	if wasCancelled(opts.Cancel) {
		_ = writer.Abort()
		logger.Info("compress cancelled", "input", inputPath)
		return Summary{}, pmerr.New(op, pmerr.KindCancelled, "operation cancelled")
	}
	if err := firstErr(); err != nil {
		_ = writer.Abort()
		return Summary{}, err
	}

	if err := writer.Finish(); err != nil {
		return Summary{}, err
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return Summary{}, pmerr.Wrap(op, pmerr.KindIO, err)
	}

	summary := Summary{
		InputSize:   size,
		OutputSize:  outInfo.Size(),
		Elapsed:     time.Since(start),
		Algorithm:   algorithm,
		Level:       level,
		WorkerCount: workerCount,
		ChunkCount:  len(spans),
	}
	logger.Info("compress done", "input", inputPath, "output", outputPath,
		"elapsed", summary.Elapsed, "ratio", ratio(summary))
	return summary, nil
}

// DecompressFile reads a PMA archive from inputPath, decompresses its
// frames in parallel, and writes the reassembled bytes to outputPath.
func DecompressFile(inputPath, outputPath string, opts Options) (Summary, error) {
	const op = "pipeline.DecompressFile"
	logger := opts.logger()

	reader, err := archive.Open(inputPath)
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = reader.Close() }()

	meta := reader.Metadata
	workerCount := opts.workerCount()

	logger.Info("decompress start", "input", inputPath, "algorithm", meta.Algorithm.String(),
		"chunks", meta.ChunkCount, "workers", workerCount)

	frames := make([]worker.EncodedFrame, 0, meta.ChunkCount)
	for i := 0; i < int(meta.ChunkCount); i++ {
		frame, err := reader.NextFrame()
		if err != nil {
			return Summary{}, err
		}
		frames = append(frames, worker.EncodedFrame{
			Index:            i,
			UncompressedSize: frame.UncompressedSize,
			Payload:          frame.Payload,
			ExpectedCRC32:    frame.CRC32,
		})
	}
	if err := reader.VerifyTrailer(); err != nil {
		return Summary{}, err
	}

	start := time.Now()

	tmpOut := fmt.Sprintf("%s.tmp-%d", outputPath, os.Getpid())
	out, err := os.Create(tmpOut)
	if err != nil {
		return Summary{}, pmerr.Wrap(op, pmerr.KindIO, err)
	}
	abortOutput := func() { _ = out.Close(); _ = os.Remove(tmpOut) }

	outcomes, firstErr := worker.DecompressFrames(frames, meta.Algorithm, workerCount, opts.Cancel)

	var written int64
	for outcome := range outcomes {
		if outcome.Err != nil {
			abortOutput()
			return Summary{}, outcome.Err
		}
		n, err := out.Write(outcome.Data)
		if err != nil {
			abortOutput()
			return Summary{}, pmerr.Wrap(op, pmerr.KindIO, err)
		}
		written += int64(n)
	}

	if wasCancelled(opts.Cancel) {
		abortOutput()
		logger.Info("decompress cancelled", "input", inputPath)
		return Summary{}, pmerr.New(op, pmerr.KindCancelled, "operation cancelled")
	}
	if err := firstErr(); err != nil {
		abortOutput()
		return Summary{}, err
	}

	if err := out.Sync(); err != nil {
		abortOutput()
		return Summary{}, pmerr.Wrap(op, pmerr.KindIO, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpOut)
		return Summary{}, pmerr.Wrap(op, pmerr.KindIO, err)
	}
	if err := os.Rename(tmpOut, outputPath); err != nil {
		return Summary{}, pmerr.Wrap(op, pmerr.KindIO, err)
	}

	summary := Summary{
		InputSize:   fileSize(inputPath),
		OutputSize:  written,
		Elapsed:     time.Since(start),
		Algorithm:   meta.Algorithm,
		Level:       int(meta.Level),
		WorkerCount: workerCount,
		ChunkCount:  int(meta.ChunkCount),
	}
	logger.Info("decompress done", "input", inputPath, "output", outputPath, "elapsed", summary.Elapsed)
	return summary, nil
}

func resolveSelection(op, inputPath string, size int64, opts Options) (codec.Algorithm, int, error) {
	if opts.Algorithm != nil {
		level := opts.Level
		if level <= 0 {
			level = codec.DefaultLevel(*opts.Algorithm)
		}
		if err := codec.ValidateLevel(*opts.Algorithm, level); err != nil {
			return 0, 0, err
		}
		return *opts.Algorithm, level, nil
	}

	prefix, err := readPrefix(inputPath, analyzer.PrefixLimit)
	if err != nil {
		return 0, 0, pmerr.Wrap(op, pmerr.KindIO, err)
	}
	stats := analyzer.Analyze(prefix, size)
	sel := analyzer.Select(stats)

	level := opts.Level
	if level <= 0 {
		level = sel.Level
	}
	if err := codec.ValidateLevel(sel.Algorithm, level); err != nil {
		return 0, 0, err
	}
	return sel.Algorithm, level, nil
}

// readPrefix reads up to limit bytes from path, short only when the file
// itself is shorter than limit.
func readPrefix(path string, limit int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, limit)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func statRegularFile(op, path string) (os.FileInfo, error) {
	if path == "" {
		return nil, pmerr.New(op, pmerr.KindInvalidInput, "empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, pmerr.Wrap(op, pmerr.KindIO, err)
	}
	if !info.Mode().IsRegular() {
		return nil, pmerr.New(op, pmerr.KindInvalidInput, "path is not a regular file")
	}
	return info, nil
}

func wasCancelled(cancel <-chan struct{}) bool {
	if cancel == nil {
		return false
	}
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func ratio(s Summary) float64 {
	if s.InputSize == 0 {
		return 0
	}
	return float64(s.OutputSize) / float64(s.InputSize)
}
