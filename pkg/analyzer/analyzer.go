// Package analyzer computes lightweight content statistics over a prefix
// of an input and turns them into an advisory (algorithm, level) choice.
// The caller may always override the choice; nothing here is mandatory.
package analyzer

import (
	"math"

	"github.com/hocestnonsatis/parallel-mengene/pkg/codec"
)

// PrefixLimit is the maximum number of leading bytes inspected; the full
// input is used when it is smaller.
const PrefixLimit = 64 * 1024

// SizeClass buckets an input size for the decision table.
type SizeClass int

const (
	Tiny SizeClass = iota
	Small
	Medium
	Large
	Huge
)

func (c SizeClass) String() string {
	switch c {
	case Tiny:
		return "tiny"
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	default:
		return "huge"
	}
}

const (
	tinyLimit   = 1 << 20          // 1 MiB
	smallLimit  = 16 << 20         // 16 MiB
	mediumLimit = 256 << 20        // 256 MiB
	largeLimit  = 4 << 30          // 4 GiB
)

// ClassifySize buckets a total input size.
func ClassifySize(size int64) SizeClass {
	switch {
	case size < tinyLimit:
		return Tiny
	case size < smallLimit:
		return Small
	case size < mediumLimit:
		return Medium
	case size < largeLimit:
		return Large
	default:
		return Huge
	}
}

// Stats holds the statistics computed over a content prefix.
type Stats struct {
	Entropy         float64
	PrintableRatio  float64
	ZeroRatio       float64
	FileSizeClass   SizeClass
}

// Analyze computes Stats over prefix (already truncated by the caller to
// at most PrefixLimit bytes) and the total input size.
func Analyze(prefix []byte, totalSize int64) Stats {
	return Stats{
		Entropy:        shannonEntropy(prefix),
		PrintableRatio: printableRatio(prefix),
		ZeroRatio:      zeroRatio(prefix),
		FileSizeClass:  ClassifySize(totalSize),
	}
}

func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	n := float64(len(data))
	var entropy float64
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func isPrintable(b byte) bool {
	if b >= 0x09 && b <= 0x0D {
		return true
	}
	return b >= 0x20 && b <= 0x7E
}

func printableRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var printable int
	for _, b := range data {
		if isPrintable(b) {
			printable++
		}
	}
	return float64(printable) / float64(len(data))
}

func zeroRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var zeros int
	for _, b := range data {
		if b == 0 {
			zeros++
		}
	}
	return float64(zeros) / float64(len(data))
}

// Selection is an advisory (algorithm, level) pair. It is never mutated
// after Select returns it.
type Selection struct {
	Algorithm codec.Algorithm
	Level     int
}

// Select applies the decision table (first match wins) to stats.
func Select(stats Stats) Selection {
	switch {
	case stats.Entropy >= 7.8 && stats.ZeroRatio < 0.02:
		return Selection{Algorithm: codec.LZ4, Level: 1}
	case stats.PrintableRatio >= 0.85 && stats.FileSizeClass <= Medium:
		return Selection{Algorithm: codec.Zstd, Level: 6}
	case stats.ZeroRatio >= 0.30 || stats.Entropy <= 3.0:
		return Selection{Algorithm: codec.Zstd, Level: 9}
	case stats.FileSizeClass == Huge:
		return Selection{Algorithm: codec.LZ4, Level: 3}
	default:
		return Selection{Algorithm: codec.Zstd, Level: 3}
	}
}

// Prefix truncates data to at most PrefixLimit bytes for analysis.
func Prefix(data []byte) []byte {
	if len(data) <= PrefixLimit {
		return data
	}
	return data[:PrefixLimit]
}
