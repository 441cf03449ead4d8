package retrieval

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpm-dev/cpm/internal/cpmenv"
	"github.com/cpm-dev/cpm/internal/embedding"
	"github.com/cpm-dev/cpm/internal/oci"
	"github.com/cpm-dev/cpm/internal/packet"
)

func TestClampKBounds(t *testing.T) {
	assert.Equal(t, MinK, ClampK(0))
	assert.Equal(t, MaxK, ClampK(1000))
	assert.Equal(t, 5, ClampK(5))
}

func TestPlanFromIntentPicksHighestMetadataScoreWithoutProbe(t *testing.T) {
	e := &Engine{}
	candidates := []Candidate{
		{Ref: "oci://r/docs-api@1", Name: "docs-api", Kind: "reference"},
		{Ref: "oci://r/billing@1", Name: "billing", Kind: "reference"},
	}
	result, err := e.PlanFromIntent(t.Context(), "look up the docs-api reference", candidates, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "oci://r/docs-api@1", result.Selected)
	assert.Equal(t, IntentLookup, result.Intent)
	assert.Contains(t, result.Fallbacks, "oci://r/billing@1")
}

func TestPlanFromIntentIsDeterministicAcrossCalls(t *testing.T) {
	e := &Engine{}
	candidates := []Candidate{
		{Ref: "oci://r/a@1", Name: "a"},
		{Ref: "oci://r/b@1", Name: "b"},
	}
	r1, err := e.PlanFromIntent(t.Context(), "something generic", candidates, "", 0)
	require.NoError(t, err)
	r2, err := e.PlanFromIntent(t.Context(), "something generic", candidates, "", 0)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestPlanFromIntentClassifiesLowScoreAsQuery(t *testing.T) {
	e := &Engine{}
	candidates := []Candidate{{Ref: "oci://r/a@1", Name: "a"}}
	result, err := e.PlanFromIntent(t.Context(), "totally unrelated text", candidates, "", 0)
	require.NoError(t, err)
	assert.Equal(t, IntentQuery, result.Intent)
}

func TestDigestDedupesByPathAndSnippet(t *testing.T) {
	chunks := []packet.DocChunk{
		{ID: "c1", Text: "hello world content", Metadata: map[string]any{"path": "a.md"}},
		{ID: "c2", Text: "hello world content", Metadata: map[string]any{"path": "a.md"}},
		{ID: "c3", Text: "a different chunk entirely", Metadata: map[string]any{"path": "b.md"}},
	}
	engine, ref := newTestEngine(t, chunks)

	digest, err := engine.Digest(t.Context(), ref, "hello", 3, 0)
	require.NoError(t, err)

	assert.Len(t, digest.Snippets, 2)
	assert.Contains(t, digest.Summary, "2 snippet(s) from 3 result(s)")
}

// newTestEngine wires an Engine against a fake OCI registry (serving one
// payload-archive layer built from chunks) and a fake OpenAI-compatible
// embeddings ingress, returning the engine and a digest-pinned ref URI.
func newTestEngine(t *testing.T, chunks []packet.DocChunk) (*Engine, string) {
	t.Helper()

	const dim = 4
	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		data := make([]map[string]any, len(body.Input))
		for i := range body.Input {
			vec := make([]float64, dim)
			vec[0] = 1
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "test-model"})
	}))
	t.Cleanup(embedSrv.Close)

	archive := buildPayloadArchive(t, chunks)
	archiveDigest := "sha256:" + hexSum(archive)
	const repo = "docs/reference"

	regSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/manifests/"):
			manifest := oci.Manifest{
				SchemaVersion: 2,
				Layers: []oci.ManifestLayer{
					{MediaType: oci.PayloadArchiveMediaType, Digest: archiveDigest, Size: int64(len(archive))},
				},
			}
			w.Header().Set("Docker-Content-Digest", archiveDigest)
			_ = json.NewEncoder(w).Encode(manifest)
		case strings.Contains(r.URL.Path, "/blobs/"):
			_, _ = w.Write(archive)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(regSrv.Close)

	host := strings.TrimPrefix(regSrv.URL, "http://")
	refURI := fmt.Sprintf("oci://%s/%s@%s", host, repo, archiveDigest)

	client := oci.NewClient(oci.ClientConfig{Insecure: true})
	cas := &oci.CAS{Client: client, Root: t.TempDir()}
	layout := cpmenv.NewLayout(cas.Root)

	embClient, err := embedding.NewClient(embedSrv.URL, "test-key")
	require.NoError(t, err)
	embedder := embedding.NewEmbedder(embClient, "test-model")
	hints := embedding.Hints{Dim: dim, Normalize: embedding.NormalizeServer}

	return NewEngine(layout, client, cas, embedder, hints, nil), refURI
}

func buildPayloadArchive(t *testing.T, chunks []packet.DocChunk) []byte {
	t.Helper()
	dir := t.TempDir()
	docsPath := dir + "/docs.jsonl"
	require.NoError(t, packet.WriteDocsJSONL(docsPath, chunks))

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	data, err := os.ReadFile(docsPath)
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "docs.jsonl", Mode: 0o644, Size: int64(len(data))}))
	_, err = tw.Write(data)
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func hexSum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
