package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/cpm-dev/cpm/internal/builderconfig"
	"github.com/cpm-dev/cpm/internal/chunk"
	"github.com/cpm-dev/cpm/internal/embedding"
	"github.com/cpm-dev/cpm/internal/packet"
	"github.com/cpm-dev/cpm/internal/scan"
)

// Result summarizes one build() call's outcome.
type Result struct {
	Manifest packet.PacketManifest
	Warnings []string
}

// Pipeline runs scan -> chunk -> incremental-reuse -> embed -> index ->
// persist for one destination directory.
type Pipeline struct {
	embedder *embedding.Embedder
	logger   *slog.Logger
}

// NewPipeline constructs a Pipeline bound to embedder, defaulting logger
// when nil.
func NewPipeline(embedder *embedding.Embedder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{embedder: embedder, logger: logger}
}

// Build implements build(source_path, destination_path, config) ->
// Result<PacketManifest, BuildError>. destinationPath must not already
// contain a manifest.json unless reuse is true (the incremental-reuse
// path).
func (p *Pipeline) Build(ctx context.Context, sourcePath, destinationPath string, cfg builderconfig.Config, reuse bool) (Result, error) {
	info, err := os.Stat(sourcePath)
	if err != nil || !info.IsDir() {
		return Result{}, &Error{Kind: ErrSourceMissing, Err: fmt.Errorf("source path %q not found", sourcePath)}
	}
	if !reuse {
		if _, err := os.Stat(filepath.Join(destinationPath, "manifest.json")); err == nil {
			return Result{}, &Error{Kind: ErrDestinationExists, Err: fmt.Errorf("destination %q already has a packet", destinationPath)}
		}
	}
	if err := os.MkdirAll(destinationPath, 0o755); err != nil {
		return Result{}, err
	}

	sentinel := filepath.Join(destinationPath, ".building")
	guard := flock.New(sentinel)
	locked, err := guard.TryLock()
	if err != nil {
		return Result{}, err
	}
	if !locked {
		return Result{}, &Error{Kind: ErrDestinationExists, Err: fmt.Errorf("destination %q is already being built", destinationPath)}
	}
	defer func() {
		_ = guard.Unlock()
		_ = os.Remove(sentinel)
	}()

	p.logger.Info("scanning source tree", "source", sourcePath)
	scanResult, err := scan.Walk(sourcePath, chunk.SupportedExts())
	if err != nil {
		return Result{}, &Error{Kind: ErrSourceMissing, Err: err}
	}
	if len(scanResult.Files) == 0 {
		return Result{}, &Error{Kind: ErrNoInputs, Err: fmt.Errorf("no supported files found under %q", sourcePath)}
	}
	p.logger.Info("scan complete", "files", len(scanResult.Files), "skipped_empty", scanResult.SkippedEmpty, "skipped_non_utf8", scanResult.SkippedNonUTF8)

	var allChunks []packet.DocChunk
	for _, f := range scanResult.Files {
		chunks, err := chunk.ChunkFile(f.RelPath, f.Ext, f.Text, cfg.Chunking)
		if err != nil {
			p.logger.Warn("chunking failed for file, skipping", "path", f.RelPath, "error", err)
			continue
		}
		allChunks = append(allChunks, chunks...)
	}
	p.logger.Info("chunking complete", "chunks", len(allChunks))

	prior, priorVectors, priorStats := p.loadPriorForReuse(destinationPath, cfg)

	vectors, dim, stats, mismatch, err := p.embedChunks(ctx, destinationPath, allChunks, prior, priorVectors, priorStats, cfg, reuse)
	if err != nil {
		return Result{}, err
	}
	if mismatch {
		p.logger.Warn("embedding dim mismatch against configured dim, invalidating incremental cache and re-embedding all chunks", "configured_dim", cfg.Embedding.Dim)
		vectors, dim, stats, mismatch, err = p.embedChunks(ctx, destinationPath, allChunks, map[string]int{}, nil, priorTotals{}, cfg, reuse)
		if err != nil {
			return Result{}, err
		}
		if mismatch {
			return Result{}, &Error{Kind: ErrDimMismatch, Err: fmt.Errorf("embedding dim does not match configured dim %d even after a full re-embed", cfg.Embedding.Dim)}
		}
	}
	p.logger.Info("embedding complete", "reused", stats.Reused, "embedded", stats.Embedded, "removed", stats.Removed)

	docsPath := filepath.Join(destinationPath, "docs.jsonl")
	if err := packet.WriteDocsJSONL(docsPath, allChunks); err != nil {
		return Result{}, err
	}

	vectorsRelPath := "vectors.f16.bin"
	if err := packet.WriteVectorsF16(filepath.Join(destinationPath, vectorsRelPath), vectors, dim); err != nil {
		return Result{}, err
	}

	ids := make([]string, len(allChunks))
	for i, c := range allChunks {
		ids[i] = c.ID
	}
	idx, err := packet.NewFlatIPIndex(dim, vectors, ids)
	if err != nil {
		return Result{}, &Error{Kind: ErrIndexWriteFailed, Err: err}
	}
	indexRelPath := filepath.Join("faiss", "index.faiss")
	if err := os.MkdirAll(filepath.Join(destinationPath, "faiss"), 0o755); err != nil {
		return Result{}, &Error{Kind: ErrIndexWriteFailed, Err: err}
	}
	if err := idx.Save(filepath.Join(destinationPath, indexRelPath)); err != nil {
		return Result{}, &Error{Kind: ErrIndexWriteFailed, Err: err}
	}

	vectorsPathCopy := vectorsRelPath
	indexPathCopy := indexRelPath
	manifest := packet.PacketManifest{
		SchemaVersion: 1,
		Embedding: packet.EmbeddingSpec{
			Provider:     "openai-compatible",
			Model:        cfg.Embedding.Model,
			Dim:          uint32(dim),
			Dtype:        packet.DtypeF16,
			Normalized:   cfg.Embedding.Mode == "client" || cfg.Embedding.Mode == "auto",
			MaxSeqLength: maxSeqLengthPtr(cfg.Embedding.MaxSeqLength),
		},
		Similarity: packet.SimilaritySpec{Space: "inner_product", IndexType: "flat"},
		Files: packet.PacketFiles{
			Docs:    "docs.jsonl",
			Vectors: &vectorsPathCopy,
			Index:   &indexPathCopy,
		},
		Counts:      packet.Counts{Docs: len(allChunks), Vectors: len(vectors)},
		Source:      packet.SourceInfo{Path: sourcePath},
		CPM:         packet.CPMInfo{Name: cfg.Name, Version: cfg.Version},
		Incremental: stats,
	}
	manifest.PacketID = PacketID(cfg, sourcePath)

	checksums, err := packet.ComputeChecksums(destinationPath, []string{"docs.jsonl", vectorsRelPath, indexRelPath})
	if err != nil {
		return Result{}, err
	}
	manifest.Checksums = checksums

	if err := packet.WriteCanonicalJSONFile(filepath.Join(destinationPath, "manifest.json"), manifest); err != nil {
		return Result{}, err
	}
	if err := packet.WriteCPMYML(filepath.Join(destinationPath, "cpm.yml"), manifest, time.Now().UTC()); err != nil {
		return Result{}, err
	}

	if cfg.Archive.Enabled {
		format := packet.ArchiveFormat(cfg.Archive.Format)
		archivePath := filepath.Join(filepath.Dir(destinationPath), filepath.Base(destinationPath)+archiveExt(format))
		if err := packet.ArchivePacketDir(destinationPath, archivePath, format); err != nil {
			return Result{}, err
		}
		p.logger.Info("archived packet", "path", archivePath)
	}

	p.logger.Info("build complete", "packet_id", manifest.PacketID, "docs", manifest.Counts.Docs)
	return Result{Manifest: manifest}, nil
}

func archiveExt(format packet.ArchiveFormat) string {
	if format == packet.ArchiveZip {
		return ".zip"
	}
	return ".tar.gz"
}

// maxSeqLengthPtr converts a config max_seq_length (0 meaning unset) into
// the manifest's optional pointer field.
func maxSeqLengthPtr(maxSeqLength int) *uint32 {
	if maxSeqLength <= 0 {
		return nil
	}
	v := uint32(maxSeqLength)
	return &v
}

// maxSeqLengthMatches reports whether a prior manifest's max_seq_length
// agrees with cfg's: both unset counts as a match, otherwise both must be
// set to the same value.
func maxSeqLengthMatches(prior *uint32, cfgMaxSeqLength int) bool {
	if cfgMaxSeqLength <= 0 {
		return prior == nil
	}
	return prior != nil && int(*prior) == cfgMaxSeqLength
}

// embedChunks assigns each chunk a vector — reused from prior when its
// content hash is unchanged, freshly embedded otherwise — and reports
// whether any resulting row's length disagrees with the resolved dim. A
// dim disagreement is reported rather than returned as an error so the
// caller can retry with reuse disabled before surfacing ErrDimMismatch.
func (p *Pipeline) embedChunks(ctx context.Context, destinationPath string, chunks []packet.DocChunk, prior map[string]int, priorVectors [][]float32, priorStats priorTotals, cfg builderconfig.Config, reuse bool) (vectors [][]float32, dim int, stats packet.IncrementalStats, dimMismatch bool, err error) {
	vectors = make([][]float32, len(chunks))
	stats = packet.IncrementalStats{Enabled: reuse}
	var toEmbed []int
	for i, c := range chunks {
		if row, ok := prior[c.Hash]; ok {
			vectors[i] = priorVectors[row]
			stats.Reused++
			continue
		}
		toEmbed = append(toEmbed, i)
	}
	stats.Removed = priorStats.total - stats.Reused
	if stats.Removed < 0 {
		stats.Removed = 0
	}

	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for j, idx := range toEmbed {
			texts[j] = chunks[idx].Text
		}
		hints := embedding.Hints{Dim: cfg.Embedding.Dim, Normalize: embedding.NormalizeMode(cfg.Embedding.Mode), Model: cfg.Embedding.Model}
		embedded, embedErr := p.embedder.Embed(ctx, texts, hints)
		if embedErr != nil {
			p.writePartialManifest(destinationPath, chunks, cfg, "embedding_failed")
			return nil, 0, stats, false, &Error{Kind: ErrEmbeddingUnavailable, Err: embedErr}
		}
		for j, idx := range toEmbed {
			vectors[idx] = embedded[j]
		}
		stats.Embedded = len(toEmbed)
	}

	dim = cfg.Embedding.Dim
	if dim == 0 && len(vectors) > 0 && vectors[0] != nil {
		dim = len(vectors[0])
	}
	for _, v := range vectors {
		if v != nil && len(v) != dim {
			return vectors, dim, stats, true, nil
		}
		if packet.HasNonFinite(v) {
			return nil, 0, stats, false, &Error{Kind: ErrNonFiniteVector, Err: fmt.Errorf("embedding vector has a non-finite component")}
		}
	}
	return vectors, dim, stats, false, nil
}

type priorTotals struct{ total int }

// loadPriorForReuse loads a prior build's chunks/vectors for incremental
// reuse, keyed by content hash (not id). Returns an empty map when no prior
// build exists, or when its embedding spec (model, dim, max_seq_length) no
// longer matches cfg.
func (p *Pipeline) loadPriorForReuse(destinationPath string, cfg builderconfig.Config) (map[string]int, [][]float32, priorTotals) {
	manifestPath := filepath.Join(destinationPath, "manifest.json")
	docsPath := filepath.Join(destinationPath, "docs.jsonl")
	vectorsPath := filepath.Join(destinationPath, "vectors.f16.bin")

	if _, err := os.Stat(manifestPath); err != nil {
		return map[string]int{}, nil, priorTotals{}
	}
	if _, err := os.Stat(docsPath); err != nil {
		return map[string]int{}, nil, priorTotals{}
	}
	if _, err := os.Stat(vectorsPath); err != nil {
		return map[string]int{}, nil, priorTotals{}
	}

	priorManifest, err := readManifest(manifestPath)
	if err != nil {
		return map[string]int{}, nil, priorTotals{}
	}
	if priorManifest.Embedding.Model != cfg.Embedding.Model {
		return map[string]int{}, nil, priorTotals{}
	}
	if cfg.Embedding.Dim != 0 && int(priorManifest.Embedding.Dim) != cfg.Embedding.Dim {
		return map[string]int{}, nil, priorTotals{}
	}
	if !maxSeqLengthMatches(priorManifest.Embedding.MaxSeqLength, cfg.Embedding.MaxSeqLength) {
		return map[string]int{}, nil, priorTotals{}
	}

	priorChunks, err := packet.ReadDocsJSONL(docsPath)
	if err != nil {
		return map[string]int{}, nil, priorTotals{}
	}
	priorVectors, err := packet.ReadVectorsF16(vectorsPath, int(priorManifest.Embedding.Dim))
	if err != nil || len(priorVectors) != len(priorChunks) {
		return map[string]int{}, nil, priorTotals{}
	}

	byHash := make(map[string]int, len(priorChunks))
	for i, c := range priorChunks {
		byHash[c.Hash] = i
	}
	return byHash, priorVectors, priorTotals{total: len(priorChunks)}
}

func readManifest(path string) (packet.PacketManifest, error) {
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

func (p *Pipeline) writePartialManifest(destinationPath string, chunks []packet.DocChunk, cfg builderconfig.Config, status string) {
	partial := packet.PacketManifest{
		SchemaVersion: 1,
		CPM:           packet.CPMInfo{Name: cfg.Name, Version: cfg.Version},
		Counts:        packet.Counts{Docs: len(chunks)},
		Extras:        map[string]any{"build_status": status},
	}
	_ = packet.WriteCanonicalJSONFile(filepath.Join(destinationPath, "manifest.json"), partial)
}
