package solcov

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"sort"
)

// The compiler appends a fixed-width CBOR metadata blob to creation
// bytecode. Hashing without it keeps artifact hashes stable across
// otherwise identical compilations.
const metadataSuffixLen = 68

// Check if the inner offset range lies fully within the outer one.
func isInsideOffset(inner SourceRange, outer SourceRange) bool {
	return outer.Start <= inner.Start && inner.Stop <= outer.Stop
}

// Returns the source text covered by an offset range, clamped to the
// bounds of the file.
func sourceSlice(sources map[string]string, path string, offset SourceRange) string {
	source, ok := sources[path]
	if !ok {
		return ""
	}
	start := offset.Start
	stop := offset.Stop
	if start < 0 {
		start = 0
	}
	if stop > len(source) {
		stop = len(source)
	}
	if start >= stop {
		return ""
	}
	return source[start:stop]
}

func sha1HashHex(s string) string {
	hasher := sha1.New()
	hasher.Write([]byte(s))
	return hex.EncodeToString(hasher.Sum(nil))
}

func stripMetadataSuffix(bytecode string) string {
	if len(bytecode) <= metadataSuffixLen {
		return bytecode
	}
	return bytecode[:len(bytecode)-metadataSuffixLen]
}

// Coverage percentages are rounded to 4 decimal places.
func roundPct(count int, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)/float64(total)*10000) / 10000
}

func sortedPcs(pcMap PcMap) []int {
	pcs := make([]int, 0, len(pcMap))
	for pc := range pcMap {
		pcs = append(pcs, pc)
	}
	sort.Ints(pcs)
	return pcs
}

func sortedInts(values []int) []int {
	sort.Ints(values)
	return values
}
