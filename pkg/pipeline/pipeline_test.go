package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hocestnonsatis/parallel-mengene/pkg/archive"
	"github.com/hocestnonsatis/parallel-mengene/pkg/codec"
	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
	"github.com/hocestnonsatis/parallel-mengene/pkg/tarpack"
)

func writeInput(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestReadPrefixFullWhenFileShorterThanLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeInput(t, dir, "short.txt", []byte("hello"))

	prefix, err := readPrefix(path, 64)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), prefix)
}

func TestReadPrefixTruncatesToLimit(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("x"), 1<<20)
	path := writeInput(t, dir, "long.bin", data)

	prefix, err := readPrefix(path, 4096)
	require.NoError(t, err)
	require.Len(t, prefix, 4096)
}

func TestReadPrefixEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeInput(t, dir, "empty.bin", nil)

	prefix, err := readPrefix(path, 64)
	require.NoError(t, err)
	require.Empty(t, prefix)
}

// Scenario 1: repeated text, auto-selected Zstd, at least one chunk.
func TestCompressTextSelectsZstd(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("hello world\n"), 100_000)
	in := writeInput(t, dir, "text.txt", data)
	out := filepath.Join(dir, "text.pma")

	summary, err := CompressFile(in, out, Options{})
	require.NoError(t, err)
	require.Equal(t, codec.Zstd, summary.Algorithm)
	require.GreaterOrEqual(t, summary.ChunkCount, 1)
	require.Less(t, summary.OutputSize, summary.InputSize/100)

	roundTripPath := filepath.Join(dir, "text.out")
	_, err = DecompressFile(out, roundTripPath, Options{})
	require.NoError(t, err)

	got, err := os.ReadFile(roundTripPath)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))
}

// Scenario 3: all-zero input, high zstd level, tiny output.
func TestCompressZeroFileSelectsHighZstdLevel(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 10<<20)
	in := writeInput(t, dir, "zeros.bin", data)
	out := filepath.Join(dir, "zeros.pma")

	summary, err := CompressFile(in, out, Options{})
	require.NoError(t, err)
	require.Equal(t, codec.Zstd, summary.Algorithm)
	require.Equal(t, 9, summary.Level)
	require.Less(t, float64(summary.OutputSize), float64(summary.InputSize)*0.001)

	roundTripPath := filepath.Join(dir, "zeros.out")
	_, err = DecompressFile(out, roundTripPath, Options{})
	require.NoError(t, err)

	got, err := os.ReadFile(roundTripPath)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))
}

// Scenario 4: directory archive via tarpack + inner_format_tag.
func TestCompressDirectoryRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), bytes.Repeat([]byte{'x'}, 10), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))
	blob := make([]byte, 1<<20)
	for i := range blob {
		blob[i] = byte(i % 256)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "c.bin"), blob, 0o644))

	dir := t.TempDir()
	var tarBuf bytes.Buffer
	require.NoError(t, tarpack.Pack(root, &tarBuf))

	tarPath := filepath.Join(dir, "staged.tar")
	require.NoError(t, os.WriteFile(tarPath, tarBuf.Bytes(), 0o600))

	archivePath := filepath.Join(dir, "dir.pma")
	_, err := CompressFile(tarPath, archivePath, Options{InnerFormatTag: archive.InnerFormatTar})
	require.NoError(t, err)

	restoredTar := filepath.Join(dir, "restored.tar")
	_, err = DecompressFile(archivePath, restoredTar, Options{})
	require.NoError(t, err)

	restoredTarBytes, err := os.ReadFile(restoredTar)
	require.NoError(t, err)
	require.True(t, bytes.Equal(tarBuf.Bytes(), restoredTarBytes))

	dest := t.TempDir()
	require.NoError(t, tarpack.Unpack(bytes.NewReader(restoredTarBytes), dest))

	a, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Len(t, a, 10)

	c, err := os.ReadFile(filepath.Join(dest, "b", "c.bin"))
	require.NoError(t, err)
	require.True(t, bytes.Equal(blob, c))
}

// Scenario 5: cancellation leaves no output and no temp files.
func TestCompressCancellationLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 64<<20)
	in := writeInput(t, dir, "big.bin", data)
	out := filepath.Join(dir, "big.pma")

	cancel := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(cancel)
	}()

	_, err := CompressFile(in, out, Options{Cancel: cancel, WorkerCount: 2})
	require.Error(t, err)
	require.Equal(t, pmerr.KindCancelled, pmerr.GetKind(err))

	_, statErr := os.Stat(out)
	require.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file: %s", e.Name())
	}
}

// Scenario 6: corrupted frame payload is detected and no output is written.
func TestDecompressCorruptionDetected(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("corruption test payload "), 5000)
	in := writeInput(t, dir, "plain.bin", data)
	out := filepath.Join(dir, "plain.pma")

	_, err := CompressFile(in, out, Options{})
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	// Flip a byte well inside the frame region, past the fixed header and
	// metadata, to corrupt a chunk payload rather than the header.
	flipIndex := len(raw) / 2
	raw[flipIndex] ^= 0xFF
	require.NoError(t, os.WriteFile(out, raw, 0o600))

	decompressed := filepath.Join(dir, "plain.out")
	_, err = DecompressFile(out, decompressed, Options{})
	require.Error(t, err)

	kind := pmerr.GetKind(err)
	require.True(t, kind == pmerr.KindDecompression || kind == pmerr.KindCorrupt)

	_, statErr := os.Stat(decompressed)
	require.True(t, os.IsNotExist(statErr), "no output should exist after corruption")
}

func TestCompressEmptyFile(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "empty.bin", nil)
	out := filepath.Join(dir, "empty.pma")

	summary, err := CompressFile(in, out, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, summary.ChunkCount)

	decompressed := filepath.Join(dir, "empty.out")
	_, err = DecompressFile(out, decompressed, Options{})
	require.NoError(t, err)

	got, err := os.ReadFile(decompressed)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCompressSingleByte(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "one.bin", []byte{0x42})
	out := filepath.Join(dir, "one.pma")

	summary, err := CompressFile(in, out, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.ChunkCount)

	decompressed := filepath.Join(dir, "one.out")
	_, err = DecompressFile(out, decompressed, Options{})
	require.NoError(t, err)

	got, err := os.ReadFile(decompressed)
	require.NoError(t, err)
	require.Equal(t, []byte{0x42}, got)
}

func TestCompressForcedAlgorithmAndLevel(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("abcdefgh"), 50_000)
	in := writeInput(t, dir, "forced.bin", data)
	out := filepath.Join(dir, "forced.pma")

	alg := codec.Gzip
	summary, err := CompressFile(in, out, Options{Algorithm: &alg, Level: 9})
	require.NoError(t, err)
	require.Equal(t, codec.Gzip, summary.Algorithm)
	require.Equal(t, 9, summary.Level)

	decompressed := filepath.Join(dir, "forced.out")
	_, err = DecompressFile(out, decompressed, Options{})
	require.NoError(t, err)

	got, err := os.ReadFile(decompressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))
}

func TestCompressRejectsMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := CompressFile(filepath.Join(dir, "does-not-exist"), filepath.Join(dir, "out.pma"), Options{})
	require.Error(t, err)
	require.Equal(t, pmerr.KindIO, pmerr.GetKind(err))
}

func TestCompressRejectsDirectoryAsInput(t *testing.T) {
	dir := t.TempDir()
	_, err := CompressFile(dir, filepath.Join(dir, "out.pma"), Options{})
	require.Error(t, err)
	require.Equal(t, pmerr.KindInvalidInput, pmerr.GetKind(err))
}
