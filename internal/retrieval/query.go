package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/cpm-dev/cpm/internal/cpmenv"
	"github.com/cpm-dev/cpm/internal/embedding"
	"github.com/cpm-dev/cpm/internal/oci"
	"github.com/cpm-dev/cpm/internal/packet"
)

// MinK/MaxK bound k at the MCP boundary.
const (
	MinK = 1
	MaxK = 20
)

// ClampK clamps k to [MinK, MaxK].
func ClampK(k int) int {
	if k < MinK {
		return MinK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// Hit is one query result row.
type Hit struct {
	Score   float32 `json:"score"`
	Path    string  `json:"path"`
	Start   int     `json:"start,omitempty"`
	End     int     `json:"end,omitempty"`
	Snippet string  `json:"snippet"`
}

// QueryResult is query()'s return value.
type QueryResult struct {
	CacheHit  bool   `json:"cache_hit"`
	PinnedURI string `json:"pinned_uri"`
	Digest    string `json:"digest"`
	Results   []Hit  `json:"results"`
}

// Engine runs query(ref, q, k) against a CPM_ROOT cache layout.
type Engine struct {
	Layout   cpmenv.Layout
	Client   *oci.Client
	CAS      *oci.CAS
	Embedder *embedding.Embedder
	Hints    embedding.Hints
	logger   *slog.Logger
}

// NewEngine constructs an Engine, defaulting logger when nil.
func NewEngine(layout cpmenv.Layout, client *oci.Client, cas *oci.CAS, embedder *embedding.Embedder, hints embedding.Hints, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Layout: layout, Client: client, CAS: cas, Embedder: embedder, Hints: hints, logger: logger}
}

// Query implements query(ref, q, k) -> QueryResult.
func (e *Engine) Query(ctx context.Context, refURI string, q string, k int) (QueryResult, error) {
	k = ClampK(k)

	ref, err := oci.ParseURI(refURI)
	if err != nil {
		return QueryResult{}, &Error{Kind: ErrMissingPacket, Err: err}
	}

	digest := ref.Digest
	if !ref.IsDigestPinned() {
		resolved, err := e.resolveAlias(ctx, ref)
		if err != nil {
			return QueryResult{}, &Error{Kind: ErrMissingPacket, Err: err}
		}
		digest = resolved
	}
	pinned := ref.WithDigest(digest).String()

	fp := packet.EmbeddingSpec{Model: e.Embedder.Model(), Dim: uint32(e.Hints.Dim), Normalized: e.Hints.Normalize == embedding.NormalizeClient || e.Hints.Normalize == embedding.NormalizeAuto}.Fingerprint()
	indexDir := e.Layout.IndexDir(digest, fp)
	indexPath := filepath.Join(indexDir, "index.faiss")

	if e.CAS.Has(digest) {
		if _, err := os.Stat(indexPath); err == nil {
			result, err := e.searchExisting(ctx, digest, fp, q, k)
			if err != nil {
				return QueryResult{}, err
			}
			result.CacheHit = true
			result.PinnedURI = pinned
			result.Digest = digest
			return result, nil
		}
	}

	payloadDir, manifestDigest, layers, err := e.materialize(ctx, ref, digest)
	if err != nil {
		return QueryResult{}, err
	}

	if err := e.ensureIndex(ctx, payloadDir, digest, manifestDigest, fp, indexDir); err != nil {
		return QueryResult{}, err
	}

	result, err := e.searchExisting(ctx, digest, fp, q, k)
	if err != nil {
		return QueryResult{}, err
	}
	result.CacheHit = false
	result.PinnedURI = pinned
	result.Digest = digest
	_ = layers
	return result, nil
}

func (e *Engine) resolveAlias(ctx context.Context, ref oci.Ref) (string, error) {
	if entry, ok := oci.ReadAliasCache(e.Layout.Root, ref); ok && !entry.Expired(oci.DefaultAliasCacheTTL, time.Now()) {
		return entry.Digest, nil
	}
	digest, err := e.Client.ResolveDigest(ctx, ref)
	if err != nil {
		return "", err
	}
	_ = oci.WriteAliasCache(e.Layout.Root, ref, digest, time.Now())
	return digest, nil
}

func (e *Engine) materialize(ctx context.Context, ref oci.Ref, digest string) (payloadDir, manifestDigest string, layers []oci.ManifestLayer, err error) {
	manifest, resolvedDigest, err := e.Client.FetchManifest(ctx, ref, digest)
	if err != nil {
		return "", "", nil, &Error{Kind: ErrMissingPacket, Err: err}
	}

	if meta, metaErr := oci.FetchPacketMetadata(ctx, e.Client, ref, manifest); metaErr != nil {
		e.logger.Warn("metadata blob unavailable, proceeding on manifest layers alone", "ref", ref.String(), "error", metaErr)
	} else {
		e.logger.Debug("resolved packet metadata", "name", meta.Packet.Name, "version", meta.Packet.Version)
	}

	payloadDir, err = e.CAS.Materialize(ctx, ref, digest, manifest.Layers)
	if err != nil {
		return "", "", nil, &Error{Kind: ErrMissingPacket, Err: err}
	}
	return payloadDir, resolvedDigest, manifest.Layers, nil
}

// ensureIndex copies a payload's own faiss/index.faiss into
// index/<digest>/<fp>/ when it and vectors.f16.bin are present and the
// payload's embedding spec matches the
// query-time embedder, or rebuilds the index from docs.jsonl otherwise.
// Guarded by an advisory lock on indexDir/.lock so concurrent queries see
// at most one rebuild.
func (e *Engine) ensureIndex(ctx context.Context, payloadDir, digest, manifestDigest, fp, indexDir string) error {
	if _, err := os.Stat(filepath.Join(indexDir, "index.faiss")); err == nil {
		return nil
	}

	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(indexDir, ".lock"))
	if err := lock.Lock(); err != nil {
		return &Error{Kind: ErrNoIndex, Err: err}
	}
	defer lock.Unlock()

	if _, err := os.Stat(filepath.Join(indexDir, "index.faiss")); err == nil {
		return nil
	}

	manifestPath := filepath.Join(payloadDir, "manifest.json")
	manifest, err := readPacketManifest(manifestPath)
	if err == nil && manifest.Embedding.Fingerprint() == fp {
		if payloadHasIndex(payloadDir) {
			return mirrorIndex(payloadDir, indexDir)
		}
	}

	return e.rebuildIndex(ctx, payloadDir, manifest, fp, indexDir)
}

func payloadHasIndex(payloadDir string) bool {
	_, idxErr := os.Stat(filepath.Join(payloadDir, "faiss", "index.faiss"))
	_, vecErr := os.Stat(filepath.Join(payloadDir, "vectors.f16.bin"))
	return idxErr == nil && vecErr == nil
}

func mirrorIndex(payloadDir, indexDir string) error {
	src := filepath.Join(payloadDir, "faiss", "index.faiss")
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := filepath.Join(indexDir, "index.faiss.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(indexDir, "index.faiss"))
}

func (e *Engine) rebuildIndex(ctx context.Context, payloadDir string, manifest packet.PacketManifest, fp, indexDir string) error {
	chunks, err := packet.ReadDocsJSONL(filepath.Join(payloadDir, "docs.jsonl"))
	if err != nil {
		return &Error{Kind: ErrNoIndex, Err: err}
	}
	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		ids[i] = c.ID
	}
	vectors, err := e.Embedder.Embed(ctx, texts, e.Hints)
	if err != nil {
		return &Error{Kind: ErrEmbedderMismatch, Err: err}
	}
	dim := e.Hints.Dim
	if dim == 0 && len(vectors) > 0 {
		dim = len(vectors[0])
	}
	idx, err := packet.NewFlatIPIndex(dim, vectors, ids)
	if err != nil {
		return &Error{Kind: ErrNoIndex, Err: err}
	}
	tmp := filepath.Join(indexDir, "index.faiss.tmp")
	if err := idx.Save(tmp); err != nil {
		return &Error{Kind: ErrNoIndex, Err: err}
	}
	return os.Rename(tmp, filepath.Join(indexDir, "index.faiss"))
}

func (e *Engine) searchExisting(ctx context.Context, digest, fp, q string, k int) (QueryResult, error) {
	indexPath := filepath.Join(e.Layout.IndexDir(digest, fp), "index.faiss")
	idx, err := packet.LoadFlatIPIndex(indexPath)
	if err != nil {
		return QueryResult{}, &Error{Kind: ErrNoIndex, Err: err}
	}

	vectors, err := e.Embedder.Embed(ctx, []string{q}, e.Hints)
	if err != nil {
		return QueryResult{}, &Error{Kind: ErrEmbedderMismatch, Err: err}
	}
	if len(vectors) == 0 {
		return QueryResult{}, &Error{Kind: ErrEmbedderMismatch, Err: fmt.Errorf("embedder returned no vector for query")}
	}

	payloadDir := e.CAS.PayloadPath(digest)
	chunks, err := packet.ReadDocsJSONL(filepath.Join(payloadDir, "docs.jsonl"))
	if err != nil {
		return QueryResult{}, &Error{Kind: ErrMissingPacket, Err: err}
	}
	byID := make(map[string]packet.DocChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	hits := idx.Search(vectors[0], k)
	results := make([]Hit, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.ID]
		if !ok {
			continue
		}
		results = append(results, Hit{Score: h.Score, Path: c.Path(), Snippet: c.Text})
	}
	return QueryResult{Results: results}, nil
}

func readPacketManifest(path string) (packet.PacketManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return packet.PacketManifest{}, err
	}
	var m packet.PacketManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return packet.PacketManifest{}, err
	}
	return m, nil
}
