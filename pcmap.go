package solcov

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
)

// BuildPcMap walks the disassembled opcode stream of the deployed
// bytecode in lock-step with its decoded source map and produces the
// per-instruction pc map.
//
// opcodes is the space separated disassembly as emitted by the
// compiler, with push operands inlined as hex literals. units maps the
// source map's file indices to the offset tables of the corresponding
// source files. The second return value lists every source path the
// bytecode was attributed to, sorted.
func BuildPcMap(opcodes string, sourceMap string, units map[int]*SourceUnit) (PcMap, []string, error) {
	pcMap := PcMap{}
	if opcodes == "" || sourceMap == "" {
		return pcMap, nil, nil
	}

	entries, err := DecodeSourceMap(sourceMap)
	if err != nil {
		return nil, nil, err
	}

	tokens := strings.Fields(trimTrailingStop(opcodes))

	paths := map[string]bool{}
	pc := 0
	next := 0
	for _, entry := range entries {
		if next >= len(tokens) {
			// The source map keeps going past the trimmed
			// metadata padding; those entries carry no code.
			break
		}
		op := tokens[next]
		next++

		item := &PcMapEntry{
			Op:            op,
			Jump:          entry.Jump,
			CoverageIndex: -1,
		}
		if item.Jump == "" {
			item.Jump = JumpNone
		}
		if next < len(tokens) && strings.HasPrefix(tokens[next], "0x") {
			item.Value = tokens[next]
			next++
		}

		if entry.FileID != -1 {
			if unit, ok := units[entry.FileID]; ok {
				item.Path = unit.Path
				paths[unit.Path] = true
				if entry.Start != -1 {
					offset := SourceRange{Start: entry.Start, Stop: entry.Start + entry.Length}
					item.Offset = &offset
					item.Fn = unit.FunctionAt(offset)
				}
			}
		}

		pcMap[pc] = item

		vmOp := vm.StringToOp(op)
		if vmOp.IsPush() {
			pc += pushDataSize(vmOp)
		}
		pc++
	}

	allPaths := make([]string, 0, len(paths))
	for path := range paths {
		allPaths = append(allPaths, path)
	}
	sort.Strings(allPaths)

	return pcMap, allPaths, nil
}

// The compiler appends unreachable STOP-terminated metadata padding
// after the real runtime code. A trailing region without a JUMPDEST is
// not reachable code and must not receive pc entries, so it is cut
// before the walk.
func trimTrailingStop(opcodes string) string {
	for len(opcodes) > 0 {
		i := strings.LastIndex(opcodes[:len(opcodes)-1], " STOP")
		if i < 0 {
			break
		}
		if strings.Contains(opcodes[i:], "JUMPDEST") {
			break
		}
		opcodes = opcodes[:i+len(" STOP")]
	}
	return opcodes
}

// Byte width of the inlined operand of a push instruction.
func pushDataSize(op vm.OpCode) int {
	if op < vm.PUSH1 || op > vm.PUSH32 {
		return 0
	}
	return int(op-vm.PUSH1) + 1
}
