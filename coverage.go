package solcov

import (
	"encoding/json"

	mapset "github.com/deckarep/golang-set/v2"
)

// TraceStep is one sample of a transaction execution trace, as
// reported by the trace collaborator. ContractName attributes the step
// to a compiled contract; attribution of call frames to contracts is
// the trace provider's job.
type TraceStep struct {
	Pc           int    `json:"pc"`
	Op           string `json:"op"`
	ContractName string `json:"contractName,omitempty"`
}

// FunctionCoverage is the evaluation state of a single function:
// the indices of its coverage units that were hit, and for branch
// units the directions observed so far. A branch index moves from the
// directional sets into Hit once both directions have been seen.
type FunctionCoverage struct {
	Hit        mapset.Set[int]
	TrueTaken  mapset.Set[int]
	FalseTaken mapset.Set[int]
	Pct        float64
}

func newFunctionCoverage() *FunctionCoverage {
	return &FunctionCoverage{
		Hit:        mapset.NewSet[int](),
		TrueTaken:  mapset.NewSet[int](),
		FalseTaken: mapset.NewSet[int](),
	}
}

// fullCoverage is the canonical form of a fully covered function:
// pct 1 with empty sets. Merging it with anything keeps it full.
func fullCoverage() *FunctionCoverage {
	fc := newFunctionCoverage()
	fc.Pct = 1
	return fc
}

func (fc *FunctionCoverage) clone() *FunctionCoverage {
	return &FunctionCoverage{
		Hit:        fc.Hit.Clone(),
		TrueTaken:  fc.TrueTaken.Clone(),
		FalseTaken: fc.FalseTaken.Clone(),
		Pct:        fc.Pct,
	}
}

type functionCoverageJSON struct {
	Hit        []int   `json:"tx"`
	TrueTaken  []int   `json:"true"`
	FalseTaken []int   `json:"false"`
	Pct        float64 `json:"pct"`
}

// MarshalJSON encodes the sets as sorted slices so parallel test
// workers can persist evaluations deterministically.
func (fc *FunctionCoverage) MarshalJSON() ([]byte, error) {
	return json.Marshal(functionCoverageJSON{
		Hit:        sortedInts(fc.Hit.ToSlice()),
		TrueTaken:  sortedInts(fc.TrueTaken.ToSlice()),
		FalseTaken: sortedInts(fc.FalseTaken.ToSlice()),
		Pct:        fc.Pct,
	})
}

func (fc *FunctionCoverage) UnmarshalJSON(data []byte) error {
	var raw functionCoverageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fc.Hit = mapset.NewSet(raw.Hit...)
	fc.TrueTaken = mapset.NewSet(raw.TrueTaken...)
	fc.FalseTaken = mapset.NewSet(raw.FalseTaken...)
	fc.Pct = raw.Pct
	return nil
}

// CoverageEval holds evaluation results keyed by contract name, source
// path and full function name.
type CoverageEval map[string]map[string]map[string]*FunctionCoverage

func (eval CoverageEval) get(contract string, path string, fn string) *FunctionCoverage {
	if paths, ok := eval[contract]; ok {
		if fns, ok := paths[path]; ok {
			return fns[fn]
		}
	}
	return nil
}

func (eval CoverageEval) put(contract string, path string, fn string, fc *FunctionCoverage) {
	if eval[contract] == nil {
		eval[contract] = map[string]map[string]*FunctionCoverage{}
	}
	if eval[contract][path] == nil {
		eval[contract][path] = map[string]*FunctionCoverage{}
	}
	eval[contract][path][fn] = fc
}

// Evaluator marks coverage units as executed based on transaction
// execution traces. All state is instance scoped, so one evaluator per
// parallel test worker is safe; results are merged afterwards with
// MergeCoverage.
type Evaluator struct {
	builds map[string]*ContractBuild
	eval   CoverageEval
}

func NewEvaluator(builds map[string]*ContractBuild) *Evaluator {
	return &Evaluator{
		builds: builds,
		eval:   CoverageEval{},
	}
}

type evalKey struct {
	contract string
	path     string
	fn       string
}

// AddTransaction folds one transaction's execution trace into the
// evaluation.
//
// Statement hits are recorded directly. Branch handling is transaction
// local first: a JUMPI only counts if the same transaction also hit
// the branch's anchor statement, which avoids crediting a branch that
// was reached through unrelated control flow. The direction is read
// from the following sample: falling through to pc+1 is the false
// direction, landing anywhere else the true one. Samples referencing
// an unknown contract or pc are skipped, not fatal.
func (e *Evaluator) AddTransaction(trace []TraceStep) {
	anchorsHit := map[evalKey]mapset.Set[int]{}

	for i, step := range trace {
		build, ok := e.builds[step.ContractName]
		if !ok {
			continue
		}
		entry, ok := build.PcMap[step.Pc]
		if !ok || entry.Path == "" || entry.Fn == "" {
			continue
		}

		key := evalKey{contract: step.ContractName, path: entry.Path, fn: entry.Fn}
		fc := e.eval.get(key.contract, key.path, key.fn)
		if fc == nil {
			fc = newFunctionCoverage()
			e.eval.put(key.contract, key.path, key.fn, fc)
		}
		local, ok := anchorsHit[key]
		if !ok {
			local = mapset.NewSet[int]()
			anchorsHit[key] = local
		}
		units := build.CoverageMap[entry.Path][entry.Fn]

		if entry.Op != "JUMPI" {
			if entry.CoverageIndex < 0 || entry.CoverageIndex >= len(units) {
				continue
			}
			if units[entry.CoverageIndex].IsBranch() {
				// Anchor statement of a branch unit: remember
				// it for this transaction only.
				local.Add(entry.CoverageIndex)
			} else {
				fc.Hit.Add(entry.CoverageIndex)
			}
			continue
		}

		index := branchUnitIndex(units, step.Pc)
		if index < 0 {
			continue
		}
		if !local.Contains(index) || fc.Hit.Contains(index) {
			continue
		}
		if i+1 >= len(trace) {
			continue
		}
		taken, opposite := fc.TrueTaken, fc.FalseTaken
		if trace[i+1].Pc == step.Pc+1 {
			taken, opposite = fc.FalseTaken, fc.TrueTaken
		}
		if !opposite.Contains(index) {
			taken.Add(index)
			continue
		}
		// Both directions observed: promote to a full hit.
		opposite.Remove(index)
		fc.Hit.Add(index)
	}
}

// Finalize computes the percentage roll-up and returns a snapshot of
// the evaluation. Every function of every coverage map appears in the
// result; functions never reached report pct 0. The evaluator can keep
// accepting transactions afterwards.
func (e *Evaluator) Finalize() CoverageEval {
	out := CoverageEval{}
	for contract, build := range e.builds {
		for path, fns := range build.CoverageMap {
			for fn, units := range fns {
				fc := e.eval.get(contract, path, fn)
				if fc == nil {
					out.put(contract, path, fn, newFunctionCoverage())
					continue
				}
				result := fc.clone()
				result.Pct = computePct(units, result)
				if result.Pct == 1 {
					result = fullCoverage()
				}
				out.put(contract, path, fn, result)
			}
		}
	}
	return out
}

// computePct applies the weighting rule: a hit statement counts 1, a
// hit branch 2, a branch with only one direction observed 1, against a
// total where branches weigh 2 and statements 1.
func computePct(units []*CoverageUnit, fc *FunctionCoverage) float64 {
	total := 0
	count := 0
	for index, unit := range units {
		weight := 1
		if unit.IsBranch() {
			weight = 2
		}
		total += weight
		if fc.Hit.Contains(index) {
			count += weight
			continue
		}
		if !unit.IsBranch() {
			continue
		}
		if fc.TrueTaken.Contains(index) || fc.FalseTaken.Contains(index) {
			count++
		}
	}
	return roundPct(count, total)
}

func branchUnitIndex(units []*CoverageUnit, pc int) int {
	for index, unit := range units {
		if unit.JumpPc == pc {
			return index
		}
	}
	return -1
}
