package packet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorsF16RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.f16.bin")

	vecs := [][]float32{
		{1, 0, 0, 0},
		{0, 0.5, 0.5, 0},
		{0, 0, 0, 0},
	}
	require.NoError(t, WriteVectorsF16(path, vecs, 4))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(vecs)*4*2), info.Size())

	got, err := ReadVectorsF16(path, 4)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range vecs {
		for j := range vecs[i] {
			assert.InDelta(t, vecs[i][j], got[i][j], 1e-3)
		}
	}
}

func TestL2NormalizePreservesZeroRows(t *testing.T) {
	zero := []float32{0, 0, 0}
	ok := L2Normalize(zero)
	assert.False(t, ok)
	assert.Equal(t, []float32{0, 0, 0}, zero)

	v := []float32{3, 4, 0}
	ok = L2Normalize(v)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, L2Norm(v), 1e-6)
}

func TestFlatIPIndexSearchOrdersByScoreThenID(t *testing.T) {
	idx, err := NewFlatIPIndex(2, [][]float32{
		{1, 0},
		{1, 0},
		{0, 1},
	}, []string{"b.py:1", "a.py:0", "c.py:0"})
	require.NoError(t, err)

	hits := idx.Search([]float32{1, 0}, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, "a.py:0", hits[0].ID)
	assert.Equal(t, "b.py:1", hits[1].ID)
}

func TestFlatIPIndexSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.faiss")

	idx, err := NewFlatIPIndex(3, [][]float32{{1, 0, 0}, {0, 1, 0}}, []string{"a:0", "b:0"})
	require.NoError(t, err)
	require.NoError(t, idx.Save(path))

	loaded, err := LoadFlatIPIndex(path)
	require.NoError(t, err)
	assert.Equal(t, idx.Dim, loaded.Dim)
	assert.Equal(t, idx.IDs, loaded.IDs)
	assert.Equal(t, idx.Vectors, loaded.Vectors)
}

func TestDocsJSONLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.jsonl")

	chunks := []DocChunk{
		{ID: "a.py:0", Text: "hello", Hash: SHA256Hex("hello"), Metadata: map[string]any{"path": "a.py", "ext": ".py"}},
		{ID: "a.py:1", Text: "world", Hash: SHA256Hex("world"), Metadata: map[string]any{"path": "a.py", "ext": ".py"}},
	}
	require.NoError(t, WriteDocsJSONL(path, chunks))

	got, err := ReadDocsJSONL(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.py", got[0].Path())
	assert.Equal(t, chunks[1].Hash, got[1].Hash)
}

func TestCanonicalJSONHasSingleTrailingNewline(t *testing.T) {
	data, err := CanonicalJSON(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1,\"b\":2}\n", string(data))
}
