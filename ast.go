package solcov

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSourceUnit reduces the compiler's AST of one source file to the
// contract and function offset table the mapping engine needs. It
// understands the nodeType-style AST emitted by solc standard JSON
// output.
func ParseSourceUnit(path string, ast map[string]interface{}) (*SourceUnit, error) {
	unit := &SourceUnit{Path: path}

	if id, ok := ast["id"].(float64); ok {
		unit.ID = int(id)
	}

	nodes, ok := ast["nodes"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("ast of %s has no nodes", path)
	}

	for _, node := range nodes {
		node, ok := node.(map[string]interface{})
		if !ok || node["nodeType"] != "ContractDefinition" {
			continue
		}

		name, _ := node["name"].(string)
		offset, err := parseSrc(node["src"])
		if err != nil {
			return nil, fmt.Errorf("contract %s in %s: %v", name, path, err)
		}
		contract := ContractDef{Name: name, Offset: offset}

		subNodes, _ := node["nodes"].([]interface{})
		for _, sub := range subNodes {
			sub, ok := sub.(map[string]interface{})
			if !ok || sub["nodeType"] != "FunctionDefinition" {
				continue
			}
			fnName, _ := sub["name"].(string)
			if fnName == "" {
				// Constructors, fallback and receive functions
				// carry their kind instead of a name.
				fnName, _ = sub["kind"].(string)
			}
			if fnName == "" {
				continue
			}
			fnOffset, err := parseSrc(sub["src"])
			if err != nil {
				return nil, fmt.Errorf("function %s.%s in %s: %v", name, fnName, path, err)
			}
			contract.Functions = append(contract.Functions, FunctionDef{
				FullName: name + "." + fnName,
				Offset:   fnOffset,
			})
		}

		unit.Contracts = append(unit.Contracts, contract)
	}

	return unit, nil
}

// Parse an AST "src" attribute of the form "start:length:fileIndex".
func parseSrc(src interface{}) (SourceRange, error) {
	var offset SourceRange

	s, ok := src.(string)
	if !ok {
		return offset, fmt.Errorf("missing src attribute")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return offset, fmt.Errorf("invalid src attribute %q", s)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return offset, fmt.Errorf("invalid src attribute %q", s)
	}
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return offset, fmt.Errorf("invalid src attribute %q", s)
	}

	offset.Start = start
	offset.Stop = start + length
	return offset, nil
}
