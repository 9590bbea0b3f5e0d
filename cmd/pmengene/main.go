package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hocestnonsatis/parallel-mengene/pkg/archive"
	"github.com/hocestnonsatis/parallel-mengene/pkg/codec"
	"github.com/hocestnonsatis/parallel-mengene/pkg/pipeline"
	"github.com/hocestnonsatis/parallel-mengene/pkg/tarpack"
)

func main() {
	algFlag := flag.String("a", "", "Algorithm: lz4, gzip, zstd (default: auto-detect)")
	level := flag.Int("l", 0, "Compression level (default: auto-selected level, or the forced algorithm's own default)")
	workers := flag.Int("w", 0, "Worker count (default: number of logical CPUs)")
	verify := flag.Bool("verify", false, "Re-decompress and compare each chunk before writing it")
	pack := flag.Bool("pack", false, "Treat the input path as a directory and TAR-pack it first")
	decompress := flag.Bool("d", false, "Decompress instead of compress")
	unpack := flag.Bool("unpack", false, "After decompressing, unpack the result as a TAR stream into the output directory")
	flag.Parse()

	fmt.Println("Parallel-Mengene")

	args := flag.Args()
	if len(args) < 2 {
		fmt.Println("Usage: pmengene [options] <input> <output>")
		os.Exit(1)
	}
	input, output := args[0], args[1]

	opts := pipeline.Options{
		Level:         *level,
		WorkerCount:   *workers,
		VerifyOnWrite: *verify,
	}

	if *decompress {
		runDecompress(input, output, opts, *unpack)
		return
	}

	if *algFlag != "" {
		alg, err := parseAlgorithmName(*algFlag)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		opts.Algorithm = &alg
	}
	if *pack {
		opts.InnerFormatTag = archive.InnerFormatTar
	}

	runCompress(input, output, opts, *pack)
}

func runCompress(input, output string, opts pipeline.Options, packDir bool) {
	target := input
	if packDir {
		tmp, err := os.CreateTemp("", "pmengene-pack-*")
		if err != nil {
			fmt.Printf("Error creating staging file: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = os.Remove(tmp.Name()) }()

		if err := tarpack.Pack(input, tmp); err != nil {
			fmt.Printf("Error packing directory: %v\n", err)
			os.Exit(1)
		}
		if err := tmp.Close(); err != nil {
			fmt.Printf("Error closing staging file: %v\n", err)
			os.Exit(1)
		}
		target = tmp.Name()
	}

	fmt.Printf("Compressing %s -> %s... ", target, output)
	summary, err := pipeline.CompressFile(target, output, opts)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Done.")
	printSummary(summary)
}

func runDecompress(input, output string, opts pipeline.Options, unpackDir bool) {
	dest := output
	if unpackDir {
		tmp, err := os.CreateTemp("", "pmengene-unpack-*")
		if err != nil {
			fmt.Printf("Error creating staging file: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = os.Remove(tmp.Name()) }()
		_ = tmp.Close()
		dest = tmp.Name()
	}

	fmt.Printf("Decompressing %s -> %s... ", input, dest)
	summary, err := pipeline.DecompressFile(input, dest, opts)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Done.")
	printSummary(summary)

	if unpackDir {
		if err := os.MkdirAll(output, 0o755); err != nil {
			fmt.Printf("Error creating output directory: %v\n", err)
			os.Exit(1)
		}
		f, err := os.Open(dest)
		if err != nil {
			fmt.Printf("Error opening staged output: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		if err := tarpack.Unpack(f, output); err != nil {
			fmt.Printf("Error unpacking directory: %v\n", err)
			os.Exit(1)
		}
	}
}

func printSummary(s pipeline.Summary) {
	fmt.Printf("  algorithm=%s level=%d workers=%d chunks=%d\n", s.Algorithm, s.Level, s.WorkerCount, s.ChunkCount)
	fmt.Printf("  input=%d bytes output=%d bytes elapsed=%s throughput=%.1f MB/s\n",
		s.InputSize, s.OutputSize, s.Elapsed, s.Throughput()/1e6)
}

func parseAlgorithmName(name string) (codec.Algorithm, error) {
	switch name {
	case "lz4":
		return codec.LZ4, nil
	case "gzip":
		return codec.Gzip, nil
	case "zstd":
		return codec.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown algorithm %q (want lz4, gzip, or zstd)", name)
	}
}
