package chunk

import (
	"fmt"

	"github.com/cpm-dev/cpm/internal/packet"
)

// ChunkFile dispatches relpath's content to the strategy selected by ext,
// packs the resulting segments into token-budgeted chunks, and assigns
// per-file monotonic chunk ids: the counter is a per-file integer starting
// at 0 (see DESIGN.md).
func ChunkFile(relpath, ext, source string, cfg BudgetConfig) ([]packet.DocChunk, error) {
	strategy := StrategyFor(ClassifyExt(ext))
	segments, err := strategy(source)
	if err != nil {
		return nil, fmt.Errorf("chunk: %s: %w", relpath, err)
	}

	blocks := make([]Block, len(segments))
	for i, s := range segments {
		kind := "symbol_child"
		if s.Kind == "symbol" {
			kind = "symbol"
		} else if s.Kind == "text" && s.Name == "preamble" {
			kind = "preamble"
		}
		blocks[i] = Block{Kind: kind, Name: s.Name, Text: s.Text}
	}

	packed := Pack(blocks, cfg)
	out := make([]packet.DocChunk, 0, len(packed))
	for i, text := range packed {
		out = append(out, packet.DocChunk{
			ID:   fmt.Sprintf("%s:%d", relpath, i),
			Text: text,
			Hash: packet.SHA256Hex(text),
			Metadata: map[string]any{
				"path": relpath,
				"ext":  ext,
			},
		})
	}
	return out, nil
}
