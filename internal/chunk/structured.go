package chunk

import (
	"encoding/json"
	"sort"

	"gopkg.in/yaml.v3"
)

// StructuredSegments splits JSON/YAML documents into one segment per
// top-level key, falling back to a single "structured_blob" segment when
// the document fails to parse as either — mirroring
// _json_yaml_segments in the reference builder plugin.
func StructuredSegments(source string) ([]Segment, error) {
	if segs, ok := jsonTopLevelSegments(source); ok {
		return segs, nil
	}
	if segs, ok := yamlTopLevelSegments(source); ok {
		return segs, nil
	}
	return []Segment{{Kind: "text", Name: "structured_blob", Text: source}}, nil
}

func jsonTopLevelSegments(source string) ([]Segment, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(source), &raw); err != nil {
		return nil, false
	}
	var keys []string
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	segments := make([]Segment, 0, len(keys))
	for _, k := range keys {
		segments = append(segments, Segment{
			Kind: "symbol",
			Name: k,
			Text: k + ": " + string(raw[k]),
		})
	}
	return segments, true
}

func yamlTopLevelSegments(source string) ([]Segment, bool) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(source), &doc); err != nil {
		return nil, false
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, false
	}
	mapping := doc.Content[0]

	var segments []Segment
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i]
		val := mapping.Content[i+1]
		var out yaml.Node
		out.Kind = yaml.MappingNode
		out.Content = []*yaml.Node{key, val}
		encoded, err := yaml.Marshal(&out)
		if err != nil {
			continue
		}
		segments = append(segments, Segment{Kind: "symbol", Name: key.Value, Text: string(encoded)})
	}
	if len(segments) == 0 {
		return nil, false
	}
	return segments, true
}
