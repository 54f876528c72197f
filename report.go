package solcov

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Color tags understood by the report consumers. Fully and never
// executed spans are green and red; a branch with only one direction
// observed is yellow or orange depending on which direction, oriented
// by how the condition reads in the source.
const (
	ColorCovered     = "green"
	ColorUncovered   = "red"
	ColorBranchTrue  = "yellow"
	ColorBranchFalse = "orange"
)

var COMMENT_PATTERNS = []*regexp.Regexp{
	regexp.MustCompile(`/\*[\s\S]*?\*/`),
	regexp.MustCompile(`//[^\n]*`),
}

// Highlight is one highlighted source span of the report artifact.
// It marshals as the [start, stop, color, message] array the report
// consumers expect.
type Highlight struct {
	Start   int
	Stop    int
	Color   string
	Message string
}

func (h Highlight) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{h.Start, h.Stop, h.Color, h.Message})
}

func (h *Highlight) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 4 {
		return fmt.Errorf("highlight has %d elements, want 4", len(raw))
	}
	if err := json.Unmarshal(raw[0], &h.Start); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &h.Stop); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[2], &h.Color); err != nil {
		return err
	}
	return json.Unmarshal(raw[3], &h.Message)
}

// Report is the persisted JSON artifact consumed by the report and GUI
// collaborators: highlighted source spans per contract and file, plus
// source hashes for cache invalidation.
type Report struct {
	Highlights map[string]map[string][]Highlight `json:"highlights"`
	Sha1       map[string]string                 `json:"sha1"`
}

// GenerateReport renders a merged coverage evaluation into the report
// artifact. Functions at pct 0 or 1 are painted as a single span over
// the whole declaration; anything in between is painted per coverage
// unit.
func GenerateReport(builds map[string]*ContractBuild, eval CoverageEval, sources map[string]string) *Report {
	report := &Report{
		Highlights: map[string]map[string][]Highlight{},
		Sha1:       map[string]string{},
	}

	for contract, paths := range eval {
		build, ok := builds[contract]
		if !ok {
			continue
		}
		report.Highlights[contract] = map[string][]Highlight{}
		report.Sha1[contract] = build.Sha1

		for path, fns := range paths {
			highlights := []Highlight{}
			for fn, fc := range fns {
				if fc.Pct == 0 || fc.Pct == 1 {
					offset, ok := fnOffset(builds, path, fn)
					if !ok {
						continue
					}
					color := ColorCovered
					if fc.Pct == 0 {
						color = ColorUncovered
					}
					highlights = append(highlights, Highlight{offset.Start, offset.Stop, color, ""})
					continue
				}
				source := sources[path]
				for index, unit := range build.CoverageMap[path][fn] {
					color := unitColor(unit, fc, index, source)
					highlights = append(highlights, Highlight{unit.Offset.Start, unit.Offset.Stop, color, ""})
				}
			}
			sort.Slice(highlights, func(i, j int) bool {
				if highlights[i].Start != highlights[j].Start {
					return highlights[i].Start < highlights[j].Start
				}
				return highlights[i].Stop < highlights[j].Stop
			})
			report.Highlights[contract][path] = highlights
		}
	}

	return report
}

// Save writes the report artifact to path as indented JSON.
func (r *Report) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0666)
}

func unitColor(unit *CoverageUnit, fc *FunctionCoverage, index int, source string) string {
	switch {
	case fc.Hit.Contains(index):
		return ColorCovered
	case fc.TrueTaken.Contains(index):
		if evaluateBranch(source, unit.Offset) {
			return ColorBranchTrue
		}
		return ColorBranchFalse
	case fc.FalseTaken.Contains(index):
		if evaluateBranch(source, unit.Offset) {
			return ColorBranchFalse
		}
		return ColorBranchTrue
	default:
		return ColorUncovered
	}
}

// evaluateBranch guesses whether the highlighted condition reads as
// the "true" side of its branch, by looking at the statement text
// around the unit. Best-effort text heuristic.
func evaluateBranch(source string, offset SourceRange) bool {
	start, stop := offset.Start, offset.Stop
	if start < 0 || stop > len(source) || start >= stop {
		return false
	}

	idx := maxSeparatorIndex(source[:start])
	if idx < 0 {
		return false
	}

	// Strip comments and surrounding punctuation from the text
	// between the enclosing statement boundary and the condition.
	before := source[idx:start]
	for _, pattern := range COMMENT_PATTERNS {
		before = pattern.ReplaceAllString(before, "")
	}
	before = strings.Trim(before, "\n\t (")

	semi := strings.Index(source[stop:], ";")
	if semi <= 0 {
		return false
	}
	after := strings.Fields(source[stop : stop+semi])
	if len(after) == 0 {
		return false
	}
	token := after[0]
	for _, t := range after {
		if t != ")" {
			token = t
			break
		}
	}
	first := token[:1]

	if strings.HasSuffix(before, "if") && first == "|" {
		return true
	}
	if strings.HasPrefix(before, "require") && (first == ")" || first == "|") {
		return true
	}
	return false
}

// Index just past the last statement boundary (";", "}" or "{") in s,
// or -1 when there is none.
func maxSeparatorIndex(s string) int {
	max := -1
	for _, sep := range []string{";", "}", "{"} {
		if i := strings.LastIndex(s, sep); i > max {
			max = i
		}
	}
	if max < 0 {
		return -1
	}
	return max + 1
}

func fnOffset(builds map[string]*ContractBuild, path string, fn string) (SourceRange, bool) {
	for _, build := range builds {
		if build.SourcePath != path {
			continue
		}
		for _, def := range build.FnOffsets {
			if def.FullName == fn {
				return def.Offset, true
			}
		}
	}
	return SourceRange{}, false
}
