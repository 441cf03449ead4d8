package chunk

import "strings"

// TextSegments splits plain text into paragraphs at blank lines, the
// fallback strategy for unrecognized extensions and for files classified
// as plain prose.
func TextSegments(source string) ([]Segment, error) {
	paragraphs := strings.Split(source, "\n\n")
	segments := make([]Segment, 0, len(paragraphs))
	for _, p := range paragraphs {
		if strings.TrimSpace(p) == "" {
			continue
		}
		segments = append(segments, Segment{Kind: "text", Text: p})
	}
	if len(segments) == 0 {
		return []Segment{{Kind: "text", Text: source}}, nil
	}
	return segments, nil
}
