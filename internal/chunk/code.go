package chunk

import (
	"regexp"
	"strings"
)

// genericDefRE matches definition lines (at any indentation) across the common
// scripting/systems languages this corpus targets, mirroring the Python
// original's GENERIC_DEF_RE.
var genericDefRE = regexp.MustCompile(
	`^\s*(func|def|class|function|fn|interface|type|impl|struct)\b`,
)

// CodeGenericSegments splits source at every line that opens a definition
// (func/def/class/function/fn/interface/type/impl/struct), indented or
// not, keeping any
// leading preamble (imports, package decl, license header) as its own
// segment. Grounded on
// cpm_plugins/llm_builder/cpm_llm_builder_plugin/prechunk.py's
// _generic_code_segments.
func CodeGenericSegments(source string) ([]Segment, error) {
	lines := strings.Split(source, "\n")

	var boundaries []int
	for i, line := range lines {
		if genericDefRE.MatchString(line) {
			boundaries = append(boundaries, i)
		}
	}

	if len(boundaries) == 0 {
		return []Segment{{Kind: "text", Text: source}}, nil
	}

	var segments []Segment
	if boundaries[0] > 0 {
		preamble := strings.TrimRight(strings.Join(lines[:boundaries[0]], "\n"), "\n")
		if strings.TrimSpace(preamble) != "" {
			segments = append(segments, Segment{
				Kind:      "text",
				Name:      "preamble",
				StartLine: 0,
				EndLine:   boundaries[0] - 1,
				Text:      preamble,
			})
		}
	}

	for idx, start := range boundaries {
		end := len(lines)
		if idx+1 < len(boundaries) {
			end = boundaries[idx+1]
		}
		name := strings.TrimSpace(lines[start])
		segments = append(segments, Segment{
			Kind:      "symbol",
			Name:      name,
			StartLine: start,
			EndLine:   end - 1,
			Text:      strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n"),
		})
	}
	return segments, nil
}
