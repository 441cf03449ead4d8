package builder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpm-dev/cpm/internal/builderconfig"
	"github.com/cpm-dev/cpm/internal/chunk"
	"github.com/cpm-dev/cpm/internal/embedding"
)

func fakeEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		data := make([]map[string]any, len(body.Input))
		for i := range body.Input {
			vec := make([]float64, 4)
			vec[i%4] = 1
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "m"})
	})
	return httptest.NewServer(mux)
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	srv := fakeEmbeddingServer(t)
	t.Cleanup(srv.Close)
	client, err := embedding.NewClient(srv.URL, "test-key")
	require.NoError(t, err)
	embedder := embedding.NewEmbedder(client, "m")
	return NewPipeline(embedder, nil)
}

func writeSourceTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world\n\nsecond paragraph here"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# Title\n\nSome content under the title.\n"), 0o644))
	return dir
}

func testConfig() builderconfig.Config {
	return builderconfig.Config{
		Name:         "docs",
		Version:      "1.0.0",
		BuildProfile: "default",
		Embedding:    builderconfig.Embedding{Model: "m", Dim: 4, Mode: "server"},
		Chunking:     chunk.DefaultBudget(),
	}
}

func TestBuildProducesManifestAndArtifacts(t *testing.T) {
	p := newTestPipeline(t)
	source := writeSourceTree(t)
	dest := t.TempDir()
	dest = filepath.Join(dest, "out")

	result, err := p.Build(t.Context(), source, dest, testConfig(), false)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Manifest.PacketID)
	assert.Greater(t, result.Manifest.Counts.Docs, 0)

	assert.FileExists(t, filepath.Join(dest, "manifest.json"))
	assert.FileExists(t, filepath.Join(dest, "docs.jsonl"))
	assert.FileExists(t, filepath.Join(dest, "vectors.f16.bin"))
	assert.FileExists(t, filepath.Join(dest, "faiss", "index.faiss"))
	assert.FileExists(t, filepath.Join(dest, "cpm.yml"))
	assert.NoFileExists(t, filepath.Join(dest, ".building"))
}

func TestBuildRejectsMissingSource(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.Build(t.Context(), filepath.Join(t.TempDir(), "missing"), t.TempDir(), testConfig(), false)
	require.Error(t, err)
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, ErrSourceMissing, berr.Kind)
}

func TestBuildRejectsExistingDestinationWithoutReuse(t *testing.T) {
	p := newTestPipeline(t)
	source := writeSourceTree(t)
	dest := t.TempDir()

	_, err := p.Build(t.Context(), source, dest, testConfig(), false)
	require.NoError(t, err)

	_, err = p.Build(t.Context(), source, dest, testConfig(), false)
	require.Error(t, err)
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, ErrDestinationExists, berr.Kind)
}

func TestBuildIsIncrementalOnRebuild(t *testing.T) {
	p := newTestPipeline(t)
	source := writeSourceTree(t)
	dest := t.TempDir()

	_, err := p.Build(t.Context(), source, dest, testConfig(), false)
	require.NoError(t, err)

	result, err := p.Build(t.Context(), source, dest, testConfig(), true)
	require.NoError(t, err)
	assert.Equal(t, result.Manifest.Counts.Docs, result.Manifest.Incremental.Reused)
	assert.Equal(t, 0, result.Manifest.Incremental.Embedded)
}

func TestPacketIDIsStableForSameInputs(t *testing.T) {
	cfg := testConfig()
	id1 := PacketID(cfg, "/src")
	id2 := PacketID(cfg, "/src")
	assert.Equal(t, id1, id2)

	id3 := PacketID(cfg, "/other")
	assert.NotEqual(t, id1, id3)
}
