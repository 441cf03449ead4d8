package chunk

// Segment is one logical unit produced by a language-aware strategy before
// token-budget packing: a top-level symbol (function, class, heading,
// top-level key) or a paragraph of plain text.
type Segment struct {
	Kind      string // "symbol" or "text"
	Name      string
	StartLine int
	EndLine   int
	Text      string
}

// Strategy is a pure function text -> ordered segments, keeping
// each chunking strategy a pluggable, independently testable function.
type Strategy func(text string) ([]Segment, error)

// Classification names which strategy applies to a file, mirroring the
// Python original's classify_file/pipeline split.
type Classification string

const (
	ClassJava      Classification = "java"
	ClassCodeGeneric Classification = "code_generic"
	ClassMarkdown  Classification = "markdown"
	ClassStructured Classification = "structured"
	ClassText      Classification = "text"
)

var extToClass = map[string]Classification{
	".java": ClassJava,
	".go":   ClassCodeGeneric,
	".py":   ClassCodeGeneric,
	".js":   ClassCodeGeneric,
	".ts":   ClassCodeGeneric,
	".tsx":  ClassCodeGeneric,
	".jsx":  ClassCodeGeneric,
	".rs":   ClassCodeGeneric,
	".c":    ClassCodeGeneric,
	".h":    ClassCodeGeneric,
	".cc":   ClassCodeGeneric,
	".cpp":  ClassCodeGeneric,
	".rb":   ClassCodeGeneric,
	".php":  ClassCodeGeneric,
	".md":   ClassMarkdown,
	".mdx":  ClassMarkdown,
	".markdown": ClassMarkdown,
	".html": ClassMarkdown,
	".htm":  ClassMarkdown,
	".json": ClassStructured,
	".yaml": ClassStructured,
	".yml":  ClassStructured,
	".txt":  ClassText,
}

// ClassifyExt resolves the strategy classification for a file extension;
// unknown extensions fall back to plain text.
func ClassifyExt(ext string) Classification {
	if c, ok := extToClass[ext]; ok {
		return c
	}
	return ClassText
}

// SupportedExts lists every extension the scanner should accept.
func SupportedExts() map[string]bool {
	out := make(map[string]bool, len(extToClass))
	for ext := range extToClass {
		out[ext] = true
	}
	return out
}

// StrategyFor returns the segmentation strategy for a classification.
func StrategyFor(c Classification) Strategy {
	switch c {
	case ClassJava:
		return JavaSegments
	case ClassCodeGeneric:
		return CodeGenericSegments
	case ClassMarkdown:
		return MarkdownSegments
	case ClassStructured:
		return StructuredSegments
	default:
		return TextSegments
	}
}
