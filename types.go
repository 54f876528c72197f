package solcov

import (
	"encoding/json"
)

// JumpKind is the jump classification a source map entry carries.
// The compiler emits "i" when an instruction jumps into a function,
// "o" when it returns out of one and "-" everywhere else.
type JumpKind string

const (
	JumpNone JumpKind = "-"
	JumpInto JumpKind = "i"
	JumpOut  JumpKind = "o"
)

// SourceRange is a half-open [Start, Stop) byte range in a source file.
type SourceRange struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

// SourceMapEntry is one fully resolved record of a compiler source map.
type SourceMapEntry struct {
	Start  int
	Length int
	FileID int
	Jump   JumpKind
}

// PcMapEntry describes the instruction at a single program counter of
// the deployed bytecode.
type PcMapEntry struct {
	Op     string       `json:"op"`
	Value  string       `json:"value,omitempty"` // literal push operand, hex
	Path   string       `json:"path,omitempty"`
	Offset *SourceRange `json:"offset,omitempty"`
	Fn     string       `json:"fn,omitempty"`
	Jump   JumpKind     `json:"jump,omitempty"`
	// CoverageIndex links back into the coverage map entry for
	// (Path, Fn). Negative when the instruction belongs to no unit.
	CoverageIndex int `json:"coverageIndex"`
}

// PcMap maps program counters of the deployed bytecode to their
// instruction records. It is built once per compiled contract and
// read-only afterwards.
type PcMap map[int]*PcMapEntry

// CoverageUnit is a logical span of source code that test coverage is
// reported against: a statement, or the condition controlling a JUMPI.
type CoverageUnit struct {
	Offset SourceRange `json:"offset"`
	// JumpPc is the pc of the controlling JUMPI instruction, or -1
	// for statement units.
	JumpPc int `json:"jump"`
}

// IsBranch reports whether the unit is tied to a conditional jump.
// Branch units count two ways (true and false) towards totals.
func (u *CoverageUnit) IsBranch() bool {
	return u.JumpPc >= 0
}

// CoverageMap holds the coverage units of one contract, keyed by
// source path and then by full function name ("Contract.fn").
type CoverageMap map[string]map[string][]*CoverageUnit

// FunctionDef is a function declaration offset extracted from the AST.
type FunctionDef struct {
	FullName string      `json:"name"`
	Offset   SourceRange `json:"offset"`
}

// ContractDef is a contract declaration offset extracted from the AST.
type ContractDef struct {
	Name      string        `json:"name"`
	Offset    SourceRange   `json:"offset"`
	Functions []FunctionDef `json:"functions"`
}

// SourceUnit is the offset table of one source file, keyed in source
// maps by its compiler-assigned file index.
type SourceUnit struct {
	ID        int
	Path      string
	Contracts []ContractDef
}

// FunctionAt returns the full name of the innermost function whose
// declaration fully contains offset, or "" if there is none.
func (u *SourceUnit) FunctionAt(offset SourceRange) string {
	for _, contract := range u.Contracts {
		if !isInsideOffset(offset, contract.Offset) {
			continue
		}
		for _, fn := range contract.Functions {
			if isInsideOffset(offset, fn.Offset) {
				return fn.FullName
			}
		}
	}
	return ""
}

// ContractBuild is the immutable build artifact of a single compiled
// contract. It bundles the compiler outputs with the derived pc and
// coverage maps; recompilation replaces it wholesale.
type ContractBuild struct {
	ContractName      string          `json:"contractName"`
	SourcePath        string          `json:"sourcePath"`
	Source            string          `json:"source"`
	Abi               json.RawMessage `json:"abi,omitempty"`
	Bytecode          string          `json:"bytecode"`
	BytecodeSha1      string          `json:"bytecodeSha1"`
	DeployedBytecode  string          `json:"deployedBytecode"`
	SourceMap         string          `json:"sourceMap"`
	DeployedSourceMap string          `json:"deployedSourceMap"`
	Opcodes           string          `json:"opcodes"`
	Offset            SourceRange     `json:"offset"`
	FnOffsets         []FunctionDef   `json:"fnOffsets"`
	AllSourcePaths    []string        `json:"allSourcePaths"`
	Sha1              string          `json:"sha1"`
	CompilerVersion   string          `json:"compilerVersion,omitempty"`

	PcMap          PcMap          `json:"pcMap"`
	CoverageMap    CoverageMap    `json:"coverageMap"`
	CoverageTotals map[string]int `json:"coverageMapTotals"`
	CoverageTotal  int            `json:"coverageMapTotal"`
}
