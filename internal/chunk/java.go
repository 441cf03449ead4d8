package chunk

import (
	"regexp"
	"strings"
)

// javaTypeRE and javaMethodRE mirror the Python original's JAVA_TYPE_RE /
// JAVA_METHOD_RE: top-level type declarations and method signatures.
var (
	javaTypeRE   = regexp.MustCompile(`^\s*(public|private|protected)?\s*(static\s+)?(final\s+)?(class|interface|enum|record)\s+\w+`)
	javaMethodRE = regexp.MustCompile(`^\s*(public|private|protected)\s+(static\s+)?[\w<>\[\],\s]+\s+\w+\s*\([^;]*\)\s*\{?\s*$`)
)

// JavaSegments splits Java source on brace-depth-tracked declaration
// boundaries: a type or method declaration opens a segment only when no
// other declaration is open, so methods inside a type stay in the type's
// segment. Matches _java_segments in
// cpm_plugins/llm_builder/cpm_llm_builder_plugin/prechunk.py.
func JavaSegments(source string) ([]Segment, error) {
	lines := strings.Split(source, "\n")

	type open struct {
		startLine int
		name      string
		depthAtOpen int
	}
	var segments []Segment
	var stack []open
	depth := 0
	lastBoundary := 0

	flushPreamble := func(upto int) {
		if upto > lastBoundary {
			text := strings.TrimRight(strings.Join(lines[lastBoundary:upto], "\n"), "\n")
			if strings.TrimSpace(text) != "" {
				segments = append(segments, Segment{Kind: "text", Name: "preamble", StartLine: lastBoundary, EndLine: upto - 1, Text: text})
			}
		}
	}

	for i, line := range lines {
		isBoundary := javaTypeRE.MatchString(line) || javaMethodRE.MatchString(line)
		if isBoundary && len(stack) == 0 {
			flushPreamble(i)
			lastBoundary = i
			stack = append(stack, open{startLine: i, name: strings.TrimSpace(line), depthAtOpen: depth})
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")

		if len(stack) > 0 && depth <= stack[len(stack)-1].depthAtOpen && strings.Contains(line, "}") {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			text := strings.TrimRight(strings.Join(lines[top.startLine:i+1], "\n"), "\n")
			segments = append(segments, Segment{Kind: "symbol", Name: top.name, StartLine: top.startLine, EndLine: i, Text: text})
			lastBoundary = i + 1
		}
	}
	flushPreamble(len(lines))

	if len(segments) == 0 {
		return []Segment{{Kind: "text", Text: source}}, nil
	}
	return segments, nil
}
