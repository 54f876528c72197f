package solcov

// MergeCoverage combines evaluation results from independent test runs
// into one aggregate. Inputs are read only; the result is new.
//
// The merge is plain set algebra over each function's evaluation: hit
// and directional sets are unioned, branch indices observed in both
// directions across runs are promoted into the hit set, and the
// percentage is recomputed from the unioned sets. A function that any
// input reports fully covered stays fully covered. The operation is
// commutative and associative, so results of arbitrary subsets of
// runs can be merged in any order. Functions missing from one input
// contribute empty sets.
func MergeCoverage(builds map[string]*ContractBuild, evals ...CoverageEval) CoverageEval {
	merged := CoverageEval{}

	for _, eval := range evals {
		for contract, paths := range eval {
			for path, fns := range paths {
				for fn, fc := range fns {
					current := merged.get(contract, path, fn)
					merged.put(contract, path, fn, mergeFunction(builds, contract, path, fn, current, fc))
				}
			}
		}
	}

	return merged
}

func mergeFunction(builds map[string]*ContractBuild, contract string, path string, fn string, a *FunctionCoverage, b *FunctionCoverage) *FunctionCoverage {
	if a == nil {
		return b.clone()
	}
	if a.Pct == 1 || b.Pct == 1 {
		return fullCoverage()
	}

	hitUnion := a.Hit.Union(b.Hit)
	trueUnion := a.TrueTaken.Union(b.TrueTaken)
	falseUnion := a.FalseTaken.Union(b.FalseTaken)
	promoted := trueUnion.Intersect(falseUnion)
	hits := hitUnion.Union(promoted)

	result := &FunctionCoverage{
		Hit:        hits,
		TrueTaken:  trueUnion.Difference(hits),
		FalseTaken: falseUnion.Difference(hits),
	}

	if build, ok := builds[contract]; ok {
		result.Pct = computePct(build.CoverageMap[path][fn], result)
	}
	if result.Pct == 1 {
		return fullCoverage()
	}
	return result
}
