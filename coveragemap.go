package solcov

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// lineItem is a coverage unit under construction, carrying the pcs
// that resolve to it so the back-references can be written into the
// pc map once the unit's index is final.
type lineItem struct {
	path   string
	offset SourceRange
	pcs    mapset.Set[int]
	jumpPc int // -1 for statement items
}

func newLineItem(pc int, entry *PcMapEntry) *lineItem {
	return &lineItem{
		path:   entry.Path,
		offset: *entry.Offset,
		pcs:    mapset.NewSet(pc),
		jumpPc: -1,
	}
}

// GenerateCoverageMaps reduces the pc map of every build to logical
// per-function coverage units and writes the unit indices back into
// the pc maps. The builds map must contain every contract of the
// compilation so units in shared source files resolve to the right
// function; sources maps source paths to their text.
func GenerateCoverageMaps(builds map[string]*ContractBuild, sources map[string]string) {
	for _, build := range builds {
		items := isolateUnits(build, sources)
		coverageMap := CoverageMap{}

		for _, item := range items {
			fn := resolveFn(builds, item.path, item.offset)
			if fn == "" {
				continue
			}
			if coverageMap[item.path] == nil {
				coverageMap[item.path] = map[string][]*CoverageUnit{}
			}
			coverageMap[item.path][fn] = append(coverageMap[item.path][fn], &CoverageUnit{
				Offset: item.offset,
				JumpPc: item.jumpPc,
			})
			index := len(coverageMap[item.path][fn]) - 1
			for _, pc := range item.pcs.ToSlice() {
				if entry, ok := build.PcMap[pc]; ok {
					entry.CoverageIndex = index
				}
			}
		}

		build.CoverageMap = coverageMap
		build.CoverageTotals, build.CoverageTotal = coverageTotals(coverageMap)
	}
}

// isolateUnits identifies the line-like coverage items of one build.
//
// Branch items are anchored first: each JUMPI that is user code gets
// one unmergeable item tied to its pc. Statement items then absorb the
// remaining attributable instructions, merging where ranges touch or
// overlap. A statement item overlapping a branch item is discarded so
// branch items stay one-to-one with their JUMPI.
func isolateUnits(build *ContractBuild, sources map[string]string) []*lineItem {
	perPath := map[string][]*lineItem{}
	pcs := sortedPcs(build.PcMap)

	for _, pc := range pcs {
		op := build.PcMap[pc]
		if op.Op != "JUMPI" || op.Path == "" || op.Offset == nil {
			continue
		}
		// A JUMPI followed by INVALID is a compiler-generated
		// revert guard; one whose source mentions " public " is an
		// implicit visibility check. Neither is user code. The
		// text check is best-effort and known to over-match.
		if next, ok := build.PcMap[pc+1]; ok && next.Op == "INVALID" {
			continue
		}
		if strings.Contains(sourceSlice(sources, op.Path, *op.Offset), " public ") {
			continue
		}
		anchor := branchAnchor(build.PcMap, pc, *op.Offset)
		if anchor < 0 {
			continue
		}
		item := newLineItem(anchor, build.PcMap[anchor])
		item.jumpPc = pc
		perPath[op.Path] = append(perPath[op.Path], item)
	}

	for _, pc := range pcs {
		op := build.PcMap[pc]
		if op.Path == "" || op.Offset == nil {
			continue
		}
		// Ranges spanning a statement separator cover multiple
		// logical statements and are unreliable as units.
		if strings.Contains(sourceSlice(sources, op.Path, *op.Offset), ";") {
			continue
		}
		var found *lineItem
		for _, item := range perPath[op.Path] {
			if item.path == op.Path && item.offset.Start <= op.Offset.Start && op.Offset.Start < item.offset.Stop {
				found = item
				break
			}
		}
		if found == nil {
			perPath[op.Path] = append(perPath[op.Path], newLineItem(pc, op))
			continue
		}
		if op.Offset.Stop > found.offset.Stop {
			// Branch items keep the exact anchor range.
			if found.jumpPc >= 0 {
				continue
			}
			found.offset.Stop = op.Offset.Stop
		}
		found.pcs.Add(pc)
	}

	var flattened []*lineItem
	for _, path := range sortedKeys(perPath) {
		flattened = append(flattened, mergeItems(perPath[path])...)
	}
	return flattened
}

// branchAnchor finds the statement a JUMPI belongs to: the closest
// previous pc with a different source range that is not a JUMPDEST.
// The scan starts four pcs back, skipping the condition evaluation
// immediately preceding the jump.
func branchAnchor(pcMap PcMap, jumpPc int, jumpOffset SourceRange) int {
	for pc := jumpPc - 4; pc > 0; pc-- {
		entry, ok := pcMap[pc]
		if !ok || entry.Path == "" || entry.Offset == nil {
			continue
		}
		if entry.Op == "JUMPDEST" || *entry.Offset == jumpOffset {
			continue
		}
		return pc
	}
	return -1
}

// mergeItems sorts one path's items and merges adjacent statement
// items where they touch or overlap. Statement items overlapping a
// branch item are dropped; branch items never merge.
func mergeItems(items []*lineItem) []*lineItem {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].offset.Start != items[j].offset.Start {
			return items[i].offset.Start < items[j].offset.Start
		}
		return items[i].offset.Stop < items[j].offset.Stop
	})

	i := 0
	for len(items) > i+1 {
		current, after := items[i], items[i+1]
		if current.jumpPc >= 0 {
			i++
			continue
		}
		if after.jumpPc >= 0 {
			if current.offset.Stop > after.offset.Start {
				items = append(items[:i], items[i+1:]...)
			} else {
				i++
			}
			continue
		}
		if current.offset.Stop >= after.offset.Start {
			current.pcs = current.pcs.Union(after.pcs)
			if after.offset.Stop > current.offset.Stop {
				current.offset.Stop = after.offset.Stop
			}
			items = append(items[:i+1], items[i+2:]...)
			continue
		}
		i++
	}
	return items
}

// resolveFn locates the function a source range belongs to by exact
// containment against the contract and function declaration offsets of
// the whole build set.
func resolveFn(builds map[string]*ContractBuild, path string, offset SourceRange) string {
	for _, build := range builds {
		if build.SourcePath != path || !isInsideOffset(offset, build.Offset) {
			continue
		}
		for _, fn := range build.FnOffsets {
			if isInsideOffset(offset, fn.Offset) {
				return fn.FullName
			}
		}
	}
	return ""
}

// coverageTotals computes the per-function unit weights: branch units
// count twice (one per direction), statement units once.
func coverageTotals(coverageMap CoverageMap) (map[string]int, int) {
	totals := map[string]int{}
	total := 0
	for _, fns := range coverageMap {
		for fn, units := range fns {
			count := 0
			for _, unit := range units {
				if unit.IsBranch() {
					count += 2
				} else {
					count++
				}
			}
			totals[fn] += count
			total += count
		}
	}
	return totals, total
}

func sortedKeys(m map[string][]*lineItem) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
