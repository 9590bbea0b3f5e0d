package worker

import (
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hocestnonsatis/parallel-mengene/pkg/chunker"
	"github.com/hocestnonsatis/parallel-mengene/pkg/codec"
	"github.com/hocestnonsatis/parallel-mengene/pkg/memory"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestCompressSourceOrdersOutput(t *testing.T) {
	data := make([]byte, 10*chunker.MinChunkSize)
	for i := range data {
		data[i] = byte(i % 256)
	}
	path := writeTempFile(t, data)

	src, err := memory.Open(path, int64(len(data)), memory.DefaultBudget())
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	spans := chunker.Plan(int64(len(data)), chunker.MinChunkSize)

	outcomes, firstErr := CompressSource(src, spans, Options{
		Algorithm:   codec.Zstd,
		Level:       3,
		WorkerCount: 4,
	})

	var collected []Outcome
	for o := range outcomes {
		collected = append(collected, o)
	}
	require.NoError(t, firstErr())
	require.Len(t, collected, len(spans))
	for i, o := range collected {
		require.Equal(t, i, o.Span.Index)
		require.NoError(t, o.Err)
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := make([]byte, 6*chunker.MinChunkSize+123)
	for i := range data {
		data[i] = byte((i * 7) % 256)
	}
	path := writeTempFile(t, data)

	src, err := memory.Open(path, int64(len(data)), memory.DefaultBudget())
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	spans := chunker.Plan(int64(len(data)), chunker.MinChunkSize)
	outcomes, firstErr := CompressSource(src, spans, Options{
		Algorithm:   codec.LZ4,
		Level:       1,
		WorkerCount: 3,
	})

	var frames []EncodedFrame
	for o := range outcomes {
		require.NoError(t, o.Err)
		frames = append(frames, EncodedFrame{
			Index:            o.Span.Index,
			UncompressedSize: o.UncompressedSize,
			Payload:          o.CompressedPayload,
			ExpectedCRC32:    o.CRC32,
		})
	}
	require.NoError(t, firstErr())

	decoded, firstDecodeErr := DecompressFrames(frames, codec.LZ4, 3, nil)
	var rebuilt []byte
	for d := range decoded {
		require.NoError(t, d.Err)
		rebuilt = append(rebuilt, d.Data...)
	}
	require.NoError(t, firstDecodeErr())
	require.Equal(t, data, rebuilt)
}

func TestDecompressFramesDetectsCRCMismatch(t *testing.T) {
	payload, err := codec.Compress(codec.Gzip, 6, []byte("hello world"))
	require.NoError(t, err)

	frames := []EncodedFrame{{
		Index:            0,
		UncompressedSize: uint32(len("hello world")),
		Payload:          payload,
		ExpectedCRC32:    crc32.ChecksumIEEE([]byte("wrong bytes")),
	}}

	outcomes, firstErr := DecompressFrames(frames, codec.Gzip, 2, nil)
	var got []DecodedOutcome
	for o := range outcomes {
		got = append(got, o)
	}
	require.Len(t, got, 1)
	require.Error(t, got[0].Err)
	require.Error(t, firstErr())
}

func TestCompressSourceRespectsCancel(t *testing.T) {
	data := make([]byte, 20*chunker.MinChunkSize)
	path := writeTempFile(t, data)

	src, err := memory.Open(path, int64(len(data)), memory.DefaultBudget())
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	spans := chunker.Plan(int64(len(data)), chunker.MinChunkSize)

	cancel := make(chan struct{})
	close(cancel)

	outcomes, _ := CompressSource(src, spans, Options{
		Algorithm:   codec.Zstd,
		Level:       3,
		WorkerCount: 2,
		Cancel:      cancel,
	})

	count := 0
	for range outcomes {
		count++
	}
	require.Less(t, count, len(spans), "cancellation before any progress should yield far fewer outcomes than chunks")
}
