package solcov

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flagCoverage(hit []int, trueTaken []int, falseTaken []int, pct float64) CoverageEval {
	fc := &FunctionCoverage{
		Hit:        mapset.NewSet(hit...),
		TrueTaken:  mapset.NewSet(trueTaken...),
		FalseTaken: mapset.NewSet(falseTaken...),
		Pct:        pct,
	}
	eval := CoverageEval{}
	eval.put("Flag", flagPath, "Flag.set", fc)
	return eval
}

func assertSameCoverage(t *testing.T, want CoverageEval, got CoverageEval) {
	t.Helper()
	require.Len(t, got, len(want))
	for contract, paths := range want {
		for path, fns := range paths {
			for fn, expected := range fns {
				actual := got.get(contract, path, fn)
				require.NotNil(t, actual, "%s %s %s", contract, path, fn)
				assert.True(t, expected.Hit.Equal(actual.Hit), "hit sets differ for %s", fn)
				assert.True(t, expected.TrueTaken.Equal(actual.TrueTaken), "true sets differ for %s", fn)
				assert.True(t, expected.FalseTaken.Equal(actual.FalseTaken), "false sets differ for %s", fn)
				assert.Equal(t, expected.Pct, actual.Pct, "pct differs for %s", fn)
			}
		}
	}
}

func TestMergeCoverageUnionsAndPromotes(t *testing.T) {
	builds, _ := makeFlagBuild()

	a := flagCoverage(nil, []int{1}, nil, 0.25)
	b := flagCoverage([]int{0}, nil, []int{1}, 0.5)

	merged := MergeCoverage(builds, a, b)
	// Branch 1 was seen true in one run and false in the other:
	// promoted to hit, pct recomputed as 3/4.
	want := flagCoverage([]int{0, 1}, nil, nil, 0.75)
	assertSameCoverage(t, want, merged)

	// Inputs are read-only.
	assert.True(t, a.get("Flag", flagPath, "Flag.set").TrueTaken.Equal(mapset.NewSet(1)))
	assert.True(t, b.get("Flag", flagPath, "Flag.set").FalseTaken.Equal(mapset.NewSet(1)))
}

func TestMergeCoverageAssociative(t *testing.T) {
	builds, _ := makeFlagBuild()

	a := flagCoverage(nil, []int{1}, nil, 0.25)
	b := flagCoverage([]int{0}, nil, []int{1}, 0.5)
	c := flagCoverage([]int{2}, nil, nil, 0.25)

	leftFirst := MergeCoverage(builds, MergeCoverage(builds, a, b), c)
	rightFirst := MergeCoverage(builds, a, MergeCoverage(builds, b, c))
	flat := MergeCoverage(builds, a, b, c)

	assertSameCoverage(t, leftFirst, rightFirst)
	assertSameCoverage(t, leftFirst, flat)
	// All weights observed across the three runs.
	assert.Equal(t, 1.0, flat.get("Flag", flagPath, "Flag.set").Pct)
}

func TestMergeCoverageCommutative(t *testing.T) {
	builds, _ := makeFlagBuild()

	a := flagCoverage([]int{0}, []int{1}, nil, 0.5)
	b := flagCoverage([]int{2}, nil, nil, 0.25)

	assertSameCoverage(t, MergeCoverage(builds, a, b), MergeCoverage(builds, b, a))
}

func TestMergeCoverageFullIsSticky(t *testing.T) {
	builds, _ := makeFlagBuild()

	full := flagCoverage(nil, nil, nil, 1)
	empty := flagCoverage(nil, nil, nil, 0)
	partial := flagCoverage([]int{0}, []int{1}, nil, 0.5)

	for _, other := range []CoverageEval{empty, partial} {
		merged := MergeCoverage(builds, full, other)
		assert.Equal(t, 1.0, merged.get("Flag", flagPath, "Flag.set").Pct)
		assert.True(t, merged.get("Flag", flagPath, "Flag.set").Hit.IsEmpty())

		merged = MergeCoverage(builds, other, full)
		assert.Equal(t, 1.0, merged.get("Flag", flagPath, "Flag.set").Pct)
	}
}

func TestMergeCoverageMismatchedKeys(t *testing.T) {
	builds, _ := makeFlagBuild()

	a := flagCoverage([]int{0}, nil, nil, 0.25)
	b := CoverageEval{}
	b.put("Other", "contracts/Other.sol", "Other.run", &FunctionCoverage{
		Hit:        mapset.NewSet(0),
		TrueTaken:  mapset.NewSet[int](),
		FalseTaken: mapset.NewSet[int](),
		Pct:        0.5,
	})

	merged := MergeCoverage(builds, a, b)
	require.NotNil(t, merged.get("Flag", flagPath, "Flag.set"))
	require.NotNil(t, merged.get("Other", "contracts/Other.sol", "Other.run"))
	// The function the other run never saw keeps its own result.
	assert.Equal(t, 0.25, merged.get("Flag", flagPath, "Flag.set").Pct)
	assert.Equal(t, 0.5, merged.get("Other", "contracts/Other.sol", "Other.run").Pct)
}

func TestMergeCoverageOfFinalizedEvaluations(t *testing.T) {
	builds, _ := makeFlagBuild()

	// Two workers, each observing one branch direction.
	first := NewEvaluator(builds)
	first.AddTransaction(flagTrace(0, 2, 6, 12))
	second := NewEvaluator(builds)
	second.AddTransaction(flagTrace(2, 6, 7))

	merged := MergeCoverage(builds, first.Finalize(), second.Finalize())
	assert.Equal(t, 1.0, merged.get("Flag", flagPath, "Flag.set").Pct)
}
