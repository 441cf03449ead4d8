package embedding

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyNormalizationModes(t *testing.T) {
	server := [][]float32{{3, 4}}
	applyNormalization(server, NormalizeServer)
	assert.Equal(t, float32(3), server[0][0])

	client := [][]float32{{3, 4}}
	applyNormalization(client, NormalizeClient)
	assert.InDelta(t, 1.0, float64(client[0][0]*client[0][0]+client[0][1]*client[0][1]), 1e-3)

	autoUnchanged := [][]float32{{0.6, 0.8}}
	applyNormalization(autoUnchanged, NormalizeAuto)
	assert.InDelta(t, 0.6, autoUnchanged[0][0], 1e-6)

	autoDeviates := [][]float32{{3, 4}}
	applyNormalization(autoDeviates, NormalizeAuto)
	assert.InDelta(t, 0.6, autoDeviates[0][0], 1e-3)
}

func TestEmbedSendsHintsAsHeadersAndBatches(t *testing.T) {
	var seenHeaders []http.Header
	var batchSizes []int

	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		seenHeaders = append(seenHeaders, r.Header.Clone())
		var body struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		batchSizes = append(batchSizes, len(body.Input))

		data := make([]map[string]any, len(body.Input))
		for i := range body.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float64{1, 0}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "m"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(srv.URL, "test-key")
	require.NoError(t, err)
	embedder := NewEmbedder(client, "m", WithBatchSize(2))

	out, err := embedder.Embed(t.Context(), []string{"a", "b", "c"}, Hints{Dim: 2, Normalize: NormalizeServer, Model: "m"})
	require.NoError(t, err)
	require.Len(t, out, 3)

	require.Len(t, batchSizes, 2)
	assert.Equal(t, 2, batchSizes[0])
	assert.Equal(t, 1, batchSizes[1])

	require.NotEmpty(t, seenHeaders)
	assert.Equal(t, "2", seenHeaders[0].Get("X-Embedding-Dim"))
	assert.Equal(t, "server", seenHeaders[0].Get("X-Embedding-Normalize"))
}

func TestEmbedRejectsNonHTTPScheme(t *testing.T) {
	_, err := NewClient("ftp://example.com", "k")
	assert.Error(t, err)
}
