package solcov

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// SolcWrapper invokes an external solc binary in standard JSON mode
// and turns its output into ContractBuild artifacts, including the
// derived pc and coverage maps.
type SolcWrapper struct {
	// Path to the solc compiler binary file.
	// If left empty the SDK will try to search for it.
	SolcBin string
	// Location of stored build artifacts.
	OutDir     string
	Optimize   bool
	Runs       int
	EVMVersion string
	AllowPaths string
	// If true, write one build artifact JSON per contract to OutDir.
	WriteBuilds bool
}

// CompilerError carries the error messages solc reported for a failed
// compilation.
type CompilerError struct {
	Messages []string
}

func (e *CompilerError) Error() string {
	return fmt.Sprintf("solc: %s", strings.Join(e.Messages, "\n"))
}

type solcInput struct {
	Language string                `json:"language"`
	Sources  map[string]solcSource `json:"sources"`
	Settings solcSettings          `json:"settings"`
}

type solcSource struct {
	Content string `json:"content"`
}

type solcSettings struct {
	Optimizer       solcOptimizer                  `json:"optimizer"`
	EVMVersion      string                         `json:"evmVersion,omitempty"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

type solcOptimizer struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

type solcOutput struct {
	Errors    []solcMessage               `json:"errors"`
	Sources   map[string]solcSourceOutput `json:"sources"`
	Contracts map[string]map[string]struct {
		ABI json.RawMessage `json:"abi"`
		EVM struct {
			Bytecode         solcBytecode `json:"bytecode"`
			DeployedBytecode solcBytecode `json:"deployedBytecode"`
		} `json:"evm"`
	} `json:"contracts"`
}

type solcMessage struct {
	Severity         string `json:"severity"`
	FormattedMessage string `json:"formattedMessage"`
	Message          string `json:"message"`
}

type solcSourceOutput struct {
	ID  int                    `json:"id"`
	AST map[string]interface{} `json:"ast"`
}

type solcBytecode struct {
	Object         string                               `json:"object"`
	Opcodes        string                               `json:"opcodes"`
	SourceMap      string                               `json:"sourceMap"`
	LinkReferences map[string]map[string][]solcLinkSpan `json:"linkReferences"`
}

type solcLinkSpan struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// CompileFiles compiles the given source files and returns the build
// artifacts keyed by contract name.
func (wrapper *SolcWrapper) CompileFiles(paths ...string) (map[string]*ContractBuild, error) {
	sources := make(map[string]string, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		sources[path] = string(content)
	}
	return wrapper.CompileSources(sources)
}

// CompileSources compiles a set of in-memory sources, keyed by path.
func (wrapper *SolcWrapper) CompileSources(sources map[string]string) (map[string]*ContractBuild, error) {
	if len(sources) == 0 {
		return map[string]*ContractBuild{}, nil
	}

	input, err := json.Marshal(wrapper.standardInput(sources))
	if err != nil {
		return nil, err
	}

	stdout, err := wrapper.runSolc(input)
	if err != nil {
		return nil, err
	}

	var output solcOutput
	if err := json.Unmarshal(stdout, &output); err != nil {
		return nil, fmt.Errorf("solc: invalid standard JSON output: %w", err)
	}
	if compileErr := collectErrors(&output); compileErr != nil {
		return nil, compileErr
	}

	version, err := wrapper.SolcVersion()
	if err != nil {
		return nil, err
	}

	builds, err := assembleBuilds(sources, &output, version)
	if err != nil {
		return nil, err
	}

	if wrapper.WriteBuilds {
		if err := wrapper.writeBuilds(builds); err != nil {
			return nil, err
		}
	}

	return builds, nil
}

// SolcVersion returns the version string of the wrapped binary.
func (wrapper *SolcWrapper) SolcVersion() (string, error) {
	stdout, err := exec.Command(wrapper.SolcBin, "--version").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Version:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Version:")), nil
		}
	}
	return "", errors.New("solc: no version in output")
}

func (wrapper *SolcWrapper) standardInput(sources map[string]string) *solcInput {
	input := &solcInput{
		Language: "Solidity",
		Sources:  make(map[string]solcSource, len(sources)),
		Settings: solcSettings{
			Optimizer:  solcOptimizer{Enabled: wrapper.Optimize, Runs: wrapper.Runs},
			EVMVersion: wrapper.EVMVersion,
			OutputSelection: map[string]map[string][]string{
				"*": {
					"*": {"abi", "evm.bytecode", "evm.deployedBytecode"},
					"":  {"ast"},
				},
			},
		},
	}
	for path, content := range sources {
		input.Sources[path] = solcSource{Content: content}
	}
	return input
}

func (wrapper *SolcWrapper) runSolc(input []byte) ([]byte, error) {
	args := []string{"--standard-json"}
	if wrapper.AllowPaths != "" {
		args = append(args, "--allow-paths", wrapper.AllowPaths)
	}
	cmd := exec.Command(wrapper.SolcBin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	go func() {
		defer stdin.Close()
		io.Copy(stdin, bytes.NewReader(input))
	}()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("solc: %v: %s", err, stderr.String())
	}
	return stdout, nil
}

func collectErrors(output *solcOutput) error {
	var messages []string
	for _, message := range output.Errors {
		if message.Severity != "error" {
			continue
		}
		text := message.FormattedMessage
		if text == "" {
			text = message.Message
		}
		messages = append(messages, text)
	}
	if len(messages) > 0 {
		return &CompilerError{Messages: messages}
	}
	return nil
}

// assembleBuilds turns one standard JSON compiler output into build
// artifacts and runs the pc map and coverage map pipeline over them.
func assembleBuilds(sources map[string]string, output *solcOutput, version string) (map[string]*ContractBuild, error) {
	units := make(map[int]*SourceUnit, len(output.Sources))
	unitsByPath := make(map[string]*SourceUnit, len(output.Sources))
	for path, src := range output.Sources {
		unit, err := ParseSourceUnit(path, src.AST)
		if err != nil {
			return nil, err
		}
		unit.ID = src.ID
		units[unit.ID] = unit
		unitsByPath[path] = unit
	}

	builds := map[string]*ContractBuild{}
	for path, contracts := range output.Contracts {
		unit, ok := unitsByPath[path]
		if !ok {
			return nil, fmt.Errorf("solc: no ast for %s", path)
		}
		for name, contract := range contracts {
			bytecode := formatLinkReferences(contract.EVM.Bytecode)

			build := &ContractBuild{
				ContractName:      name,
				SourcePath:        path,
				Source:            sources[path],
				Abi:               contract.ABI,
				Bytecode:          bytecode,
				BytecodeSha1:      sha1HashHex(stripMetadataSuffix(bytecode)),
				DeployedBytecode:  contract.EVM.DeployedBytecode.Object,
				SourceMap:         contract.EVM.Bytecode.SourceMap,
				DeployedSourceMap: contract.EVM.DeployedBytecode.SourceMap,
				Opcodes:           contract.EVM.DeployedBytecode.Opcodes,
				Sha1:              sha1HashHex(sources[path]),
				CompilerVersion:   version,
				PcMap:             PcMap{},
				CoverageMap:       CoverageMap{},
				AllSourcePaths:    []string{path},
			}

			for _, def := range unit.Contracts {
				if def.Name != name {
					continue
				}
				build.Offset = def.Offset
				build.FnOffsets = def.Functions
			}

			if build.DeployedBytecode != "" {
				pcMap, allPaths, err := BuildPcMap(build.Opcodes, build.DeployedSourceMap, units)
				if err != nil {
					return nil, fmt.Errorf("contract %s: %w", name, err)
				}
				build.PcMap = pcMap
				if len(allPaths) > 0 {
					build.AllSourcePaths = allPaths
				}
			}

			builds[name] = build
		}
	}

	GenerateCoverageMaps(builds, sources)

	return builds, nil
}

// formatLinkReferences replaces unlinked library address placeholders
// in creation bytecode with readable "__LibName...__" markers.
func formatLinkReferences(bytecode solcBytecode) string {
	object := bytecode.Object
	for _, libraries := range bytecode.LinkReferences {
		for name, spans := range libraries {
			marker := name
			if len(marker) > 36 {
				marker = marker[:36]
			}
			marker = fmt.Sprintf("__%-36s__", marker)
			marker = strings.ReplaceAll(marker, " ", "_")
			for _, span := range spans {
				loc := span.Start * 2
				if loc+40 > len(object) {
					continue
				}
				object = object[:loc] + marker + object[loc+40:]
			}
		}
	}
	return object
}

func (wrapper *SolcWrapper) writeBuilds(builds map[string]*ContractBuild) error {
	if _, err := os.Stat(wrapper.OutDir); os.IsNotExist(err) {
		if err := os.Mkdir(wrapper.OutDir, os.ModePerm); err != nil {
			return err
		}
	}
	names := make([]string, 0, len(builds))
	for name := range builds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := json.MarshalIndent(builds[name], "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(wrapper.OutDir, fmt.Sprintf("%s.json", name))
		if err := os.WriteFile(path, data, 0666); err != nil {
			return err
		}
	}
	return nil
}

// FindSolc searches the known locations for a solc binary: the working
// directory, PATH, then per-user solc-select and solcx installs.
func FindSolc() (string, error) {
	for _, finder := range []func() string{findSolcLocal, findSolcPATH, findSolcInstalls} {
		if path := finder(); path != "" {
			return path, nil
		}
	}
	return "", errors.New("couldn't locate solc binary")
}

func findSolcLocal() string {
	path := filepath.Join("./", "solc")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func findSolcPATH() string {
	path, err := exec.LookPath("solc")
	if err == nil {
		return path
	}
	return ""
}

func findSolcInstalls() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	for _, dir := range []string{".solc-select/artifacts", ".solcx"} {
		installDir := filepath.Join(homeDir, dir)
		entries, err := os.ReadDir(installDir)
		if err != nil {
			continue
		}

		// Entries are version-named; the lexically last one is the
		// most recent install.
		best := ""
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), "solc") && entry.Name() > best {
				best = entry.Name()
			}
		}
		if best == "" {
			continue
		}

		candidate := filepath.Join(installDir, best)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		nested := filepath.Join(candidate, best)
		if _, err := os.Stat(nested); err == nil {
			return nested
		}
	}

	return ""
}
