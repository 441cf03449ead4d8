package chunk

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

var markdownParser = goldmark.New(
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// MarkdownSegments splits markdown (and HTML treated as prose) at H1/H2
// boundaries, prefixing each segment with its header hierarchy so a chunk
// read in isolation retains its section context. Walks a goldmark table of
// contents the same way a header-path-aware document chunker would, but
// emits plain Segments rather than a header-path-aware Chunk type.
func MarkdownSegments(source string) ([]Segment, error) {
	src := []byte(source)
	reader := text.NewReader(src)
	doc := markdownParser.Parser().Parse(reader)

	tree, err := toc.Inspect(doc, src, toc.MinDepth(1), toc.MaxDepth(2), toc.Compact(true))
	if err != nil {
		return nil, fmt.Errorf("chunk: inspect markdown toc: %w", err)
	}

	if len(tree.Items) == 0 {
		return []Segment{{Kind: "text", Name: "", Text: source}}, nil
	}

	var segments []Segment
	walkTOC(doc, src, tree.Items, nil, &segments)
	return segments, nil
}

func walkTOC(doc ast.Node, source []byte, items toc.Items, ancestors []string, out *[]Segment) {
	for i, item := range items {
		path := append(append([]string{}, ancestors...), string(item.Title))
		headerPath := formatHeaderPath(path)

		headerNode := findHeadingByID(doc, string(item.ID))
		if headerNode == nil {
			continue
		}
		start := headerNode.Lines().At(0)

		var end text.Segment
		if i+1 < len(items) {
			if next := findHeadingByID(doc, string(items[i+1].ID)); next != nil {
				end = next.Lines().At(0)
			}
		} else {
			end = findNextHeadingBoundary(doc, headerNode, headerNode.(*ast.Heading).Level)
		}

		content := extractMarkdownRange(source, start, end)
		*out = append(*out, Segment{
			Kind: "symbol",
			Name: headerPath,
			Text: fmt.Sprintf("%s\n\n%s", headerPath, content),
		})

		if len(item.Items) > 0 {
			walkTOC(doc, source, item.Items, path, out)
		}
	}
}

func formatHeaderPath(path []string) string {
	parts := make([]string, len(path))
	for i, segment := range path {
		parts[i] = fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment)
	}
	return strings.Join(parts, " > ")
}

func findHeadingByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			if headingID, ok := n.(*ast.Heading).AttributeString("id"); ok {
				if b, ok := headingID.([]byte); ok && string(b) == id {
					found = n
					return ast.WalkStop, nil
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

func findNextHeadingBoundary(root ast.Node, current ast.Node, currentLevel int) text.Segment {
	var next ast.Node
	foundCurrent := false
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		heading := n.(*ast.Heading)
		if !foundCurrent {
			if n == current {
				foundCurrent = true
			}
			return ast.WalkContinue, nil
		}
		if heading.Level <= currentLevel {
			next = n
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if next != nil {
		return next.Lines().At(0)
	}
	return text.Segment{}
}

func extractMarkdownRange(source []byte, start, end text.Segment) string {
	if end.Start == 0 && end.Stop == 0 {
		return strings.TrimSpace(string(source[start.Start:]))
	}
	return strings.TrimSpace(string(source[start.Start:end.Start]))
}
