package chunk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkFileAssignsPerFileCounters(t *testing.T) {
	source := "def one():\n    pass\n\ndef two():\n    pass\n"
	cfg := BudgetConfig{ChunkTokens: 2, OverlapTokens: 0, MaxSymbolBlocksPerChunk: 1, HardCapTokens: 0}

	chunks, err := ChunkFile("pkg/a.py", ".py", source, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, "pkg/a.py", c.Path())
		assert.Equal(t, ".py", c.Ext())
		assert.Contains(t, c.ID, "pkg/a.py:")
		assert.Equal(t, fmt.Sprintf("pkg/a.py:%d", i), c.ID)
	}
}

func TestMarkdownSegmentsSplitsOnHeaders(t *testing.T) {
	source := "# Title\n\nintro\n\n## Section\n\nbody\n"
	segs, err := MarkdownSegments(source)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Contains(t, segs[0].Name, "# Title")
	assert.Contains(t, segs[1].Name, "## Section")
}

func TestCodeGenericSegmentsFindsTopLevelDefs(t *testing.T) {
	source := "import os\n\ndef a():\n    return 1\n\ndef b():\n    return 2\n"
	segs, err := CodeGenericSegments(source)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, "preamble", segs[0].Name)
	assert.Equal(t, "symbol", segs[1].Kind)
}

func TestStructuredSegmentsFallsBackOnUnparsable(t *testing.T) {
	segs, err := StructuredSegments("{{{unclosed")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "structured_blob", segs[0].Name)
}

func TestPackRespectsMaxSymbolBlocksPerChunk(t *testing.T) {
	blocks := []Block{
		{Kind: "symbol", Name: "a", Text: "func a() {}"},
		{Kind: "symbol", Name: "b", Text: "func b() {}"},
		{Kind: "symbol", Name: "c", Text: "func c() {}"},
	}
	cfg := BudgetConfig{ChunkTokens: 10000, OverlapTokens: 0, MaxSymbolBlocksPerChunk: 1, HardCapTokens: 0}
	chunks := Pack(blocks, cfg)
	assert.Len(t, chunks, 3)
}
