package solcov

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHighlightJSON(t *testing.T) {
	data, err := json.Marshal(Highlight{10, 25, ColorCovered, ""})
	require.NoError(t, err)
	assert.JSONEq(t, `[10, 25, "green", ""]`, string(data))

	var decoded Highlight
	require.NoError(t, json.Unmarshal([]byte(`[3, 7, "red", "note"]`), &decoded))
	assert.Equal(t, Highlight{3, 7, "red", "note"}, decoded)

	assert.Error(t, json.Unmarshal([]byte(`[3, 7]`), &decoded))
}

func TestGenerateReportWholeFunctionSpans(t *testing.T) {
	builds, sources := makeFlagBuild()
	fnOff := builds["Flag"].FnOffsets[0].Offset

	// Untouched function: one red span over the whole declaration.
	eval := NewEvaluator(builds).Finalize()
	report := GenerateReport(builds, eval, sources)
	require.Len(t, report.Highlights["Flag"][flagPath], 1)
	assert.Equal(t, Highlight{fnOff.Start, fnOff.Stop, ColorUncovered, ""}, report.Highlights["Flag"][flagPath][0])
	assert.Equal(t, builds["Flag"].Sha1, report.Sha1["Flag"])

	// Fully covered: same span, green.
	e := NewEvaluator(builds)
	e.AddTransaction(flagTrace(0, 2, 6, 12))
	e.AddTransaction(flagTrace(0, 2, 6, 7))
	report = GenerateReport(builds, e.Finalize(), sources)
	require.Len(t, report.Highlights["Flag"][flagPath], 1)
	assert.Equal(t, Highlight{fnOff.Start, fnOff.Stop, ColorCovered, ""}, report.Highlights["Flag"][flagPath][0])
}

func TestGenerateReportPerUnitColors(t *testing.T) {
	builds, sources := makeFlagBuild()

	e := NewEvaluator(builds)
	e.AddTransaction(flagTrace(0, 2, 6, 12))
	report := GenerateReport(builds, e.Finalize(), sources)

	highlights := report.Highlights["Flag"][flagPath]
	require.Len(t, highlights, 3)

	source := flagSource()
	units := builds["Flag"].CoverageMap[flagPath]["Flag.set"]

	// Highlights come back ordered by source position.
	assert.Equal(t, rangeOf(source, "uint256 x = 1").Start, highlights[0].Start)
	assert.Equal(t, ColorCovered, highlights[0].Color)

	// Branch taken true only; the condition does not read as the
	// "true" side, so it is painted orange.
	assert.Equal(t, units[1].Offset.Start, highlights[1].Start)
	assert.Equal(t, ColorBranchFalse, highlights[1].Color)

	// Body statement never executed.
	assert.Equal(t, units[2].Offset.Start, highlights[2].Start)
	assert.Equal(t, ColorUncovered, highlights[2].Color)
}

func TestEvaluateBranchHeuristic(t *testing.T) {
	ifSource := "contract T { function f(uint256 a) internal { if (a > 1 || a < 0) { a = 2; } } }"
	cond := rangeOf(ifSource, "a > 1")
	assert.True(t, evaluateBranch(ifSource, cond))

	requireSource := "contract T { function f(uint256 a) internal { require(a > 1); } }"
	cond = rangeOf(requireSource, "a > 1")
	assert.True(t, evaluateBranch(requireSource, cond))

	whileSource := "contract T { function f(uint256 a) internal { while (a > 1) { a = 2; } } }"
	cond = rangeOf(whileSource, "a > 1")
	assert.False(t, evaluateBranch(whileSource, cond))

	// Comments between the keyword and the condition are ignored.
	commented := "contract T { function f(uint256 a) internal { if (/* top */ a > 1 || a < 0) { a = 2; } } }"
	cond = rangeOf(commented, "a > 1")
	assert.True(t, evaluateBranch(commented, cond))

	assert.False(t, evaluateBranch("no separators here", SourceRange{3, 5}))
	assert.False(t, evaluateBranch("short", SourceRange{2, 90}))
}

func TestReportSave(t *testing.T) {
	builds, sources := makeFlagBuild()
	report := GenerateReport(builds, NewEvaluator(builds).Finalize(), sources)

	path := filepath.Join(t.TempDir(), "reports", "coverage.json")
	require.NoError(t, report.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"highlights"`))

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.Sha1, decoded.Sha1)
}

func TestUnitColorDirectional(t *testing.T) {
	source := "contract T { function f(uint256 a) internal { if (a > 1 || a < 0) { a = 2; } } }"
	unit := &CoverageUnit{Offset: rangeOf(source, "a > 1"), JumpPc: 9}

	fc := newFunctionCoverage()
	fc.TrueTaken.Add(0)
	assert.Equal(t, ColorBranchTrue, unitColor(unit, fc, 0, source))

	fc = newFunctionCoverage()
	fc.FalseTaken.Add(0)
	assert.Equal(t, ColorBranchFalse, unitColor(unit, fc, 0, source))

	fc = newFunctionCoverage()
	fc.Hit = mapset.NewSet(0)
	assert.Equal(t, ColorCovered, unitColor(unit, fc, 0, source))
}
