package solcov

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsInsideOffset(t *testing.T) {
	outer := SourceRange{10, 50}

	assert.True(t, isInsideOffset(SourceRange{10, 50}, outer))
	assert.True(t, isInsideOffset(SourceRange{20, 30}, outer))
	assert.False(t, isInsideOffset(SourceRange{9, 30}, outer))
	assert.False(t, isInsideOffset(SourceRange{20, 51}, outer))
	assert.False(t, isInsideOffset(SourceRange{0, 100}, outer))
}

func TestSourceSlice(t *testing.T) {
	sources := map[string]string{"a.sol": "contract A {}"}

	assert.Equal(t, "contract", sourceSlice(sources, "a.sol", SourceRange{0, 8}))
	assert.Equal(t, "A {}", sourceSlice(sources, "a.sol", SourceRange{9, 13}))

	// Out-of-bounds offsets are clamped rather than panicking.
	assert.Equal(t, "contract A {}", sourceSlice(sources, "a.sol", SourceRange{-5, 99}))
	assert.Equal(t, "", sourceSlice(sources, "a.sol", SourceRange{8, 8}))
	assert.Equal(t, "", sourceSlice(sources, "a.sol", SourceRange{20, 30}))
	assert.Equal(t, "", sourceSlice(sources, "missing.sol", SourceRange{0, 5}))
}

func TestSha1HashHex(t *testing.T) {
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", sha1HashHex(""))
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", sha1HashHex("abc"))
}

func TestStripMetadataSuffix(t *testing.T) {
	code := strings.Repeat("60", 100)
	stripped := stripMetadataSuffix(code)
	assert.Len(t, stripped, len(code)-metadataSuffixLen)
	assert.True(t, strings.HasPrefix(code, stripped))

	// Bytecode shorter than the metadata blob is left alone.
	assert.Equal(t, "6080", stripMetadataSuffix("6080"))
}

func TestRoundPct(t *testing.T) {
	assert.Equal(t, 0.0, roundPct(0, 0))
	assert.Equal(t, 0.0, roundPct(0, 4))
	assert.Equal(t, 0.5, roundPct(2, 4))
	assert.Equal(t, 1.0, roundPct(4, 4))
	assert.Equal(t, 0.3333, roundPct(1, 3))
	assert.Equal(t, 0.6667, roundPct(2, 3))
}

func TestSortedPcs(t *testing.T) {
	pcMap := PcMap{12: {}, 0: {}, 6: {}, 2: {}}
	assert.Equal(t, []int{0, 2, 6, 12}, sortedPcs(pcMap))
	assert.Empty(t, sortedPcs(PcMap{}))
}
