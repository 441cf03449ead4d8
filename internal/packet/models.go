// Package packet defines the on-disk packet data model — DocChunk,
// EmbeddingSpec, PacketManifest, Lockfile — and the file-format I/O that
// reads and writes them bit-exactly.
package packet

import "fmt"

// DocChunk is one semantic segment of one source file. Immutable once
// written to a packet's docs.jsonl.
type DocChunk struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Hash     string         `json:"hash"`
	Metadata map[string]any `json:"metadata"`
}

// Path returns metadata["path"] as a string, or "" if absent.
func (c DocChunk) Path() string {
	if v, ok := c.Metadata["path"].(string); ok {
		return v
	}
	return ""
}

// Ext returns metadata["ext"] as a string, or "" if absent.
func (c DocChunk) Ext() string {
	if v, ok := c.Metadata["ext"].(string); ok {
		return v
	}
	return ""
}

// Dtype names the on-disk vector element encoding.
type Dtype string

const (
	DtypeF16 Dtype = "f16"
	DtypeF32 Dtype = "f32"
)

// EmbeddingSpec describes the embedding model that produced a packet's
// vectors.
type EmbeddingSpec struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Dim           uint32  `json:"dim"`
	Dtype         Dtype   `json:"dtype"`
	Normalized    bool    `json:"normalized"`
	MaxSeqLength  *uint32 `json:"max_seq_length,omitempty"`
}

// Fingerprint implements the embedding fingerprint H(model ‖ dim ‖
// normalized) used to disambiguate indexes built over the same packet by
// different embedders (spec glossary: "Embedding fingerprint").
func (s EmbeddingSpec) Fingerprint() string {
	return FoldSHA256(fmt.Sprintf("%s\x00%d\x00%t", s.Model, s.Dim, s.Normalized))
}

// SimilaritySpec names the index's similarity space and implementation.
type SimilaritySpec struct {
	Space     string `json:"space"`
	IndexType string `json:"index_type"`
}

// PacketFiles enumerates a packet's artifact relative paths. Vectors/Index
// are nullable to signal partial success (e.g. embedding_failed builds).
type PacketFiles struct {
	Docs        string  `json:"docs"`
	Vectors     *string `json:"vectors"`
	Index       *string `json:"index"`
	Calibration *string `json:"calibration,omitempty"`
}

// IncrementalStats records the builder's incremental-reuse bookkeeping.
// FileCacheHits is a supplemental field (not in the base spec contract) for
// file-level cache hits distinct from chunk-level reuse; the builder does
// not set it, so it stays 0 and is omitted from manifest.json.
type IncrementalStats struct {
	Enabled       bool `json:"enabled"`
	Reused        int  `json:"reused"`
	Embedded      int  `json:"embedded"`
	Removed       int  `json:"removed"`
	FileCacheHits int  `json:"file_cache_hits,omitempty"`
}

// Counts summarizes docs/vectors row counts.
type Counts struct {
	Docs    int `json:"docs"`
	Vectors int `json:"vectors"`
}

// ChecksumEntry names a file's hash algorithm and value.
type ChecksumEntry struct {
	Algo  string `json:"algo"`
	Value string `json:"value"`
}

// SourceInfo records where a packet was built from.
type SourceInfo struct {
	Path string `json:"path,omitempty"`
}

// CPMInfo records the cpm.yml-equivalent packaging metadata.
type CPMInfo struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Entrypoints []string `json:"entrypoints,omitempty"`
}

// PacketManifest is manifest.json's in-memory shape.
type PacketManifest struct {
	SchemaVersion int                      `json:"schema_version"`
	PacketID      string                   `json:"packet_id"`
	Embedding     EmbeddingSpec            `json:"embedding"`
	Similarity    SimilaritySpec           `json:"similarity"`
	Files         PacketFiles              `json:"files"`
	Counts        Counts                   `json:"counts"`
	Source        SourceInfo               `json:"source"`
	CPM           CPMInfo                  `json:"cpm"`
	Incremental   IncrementalStats         `json:"incremental"`
	Checksums     map[string]ChecksumEntry `json:"checksums"`
	Extras        map[string]any           `json:"extras,omitempty"`
}

// PipelineStep records one build-plan step's identity and determinism.
type PipelineStep struct {
	Step             string         `json:"step"`
	Plugin           string         `json:"plugin"`
	PluginVersion    string         `json:"plugin_version"`
	ConfigHash       string         `json:"config_hash"`
	Params           map[string]any `json:"params,omitempty"`
	NonDeterministic bool           `json:"non_deterministic,omitempty"`
}

// ModelRecord records a resolved embedding model's identity for the
// lockfile's models section.
type ModelRecord struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Revision         string  `json:"revision,omitempty"`
	Dtype            Dtype   `json:"dtype"`
	DevicePolicy     string  `json:"device_policy,omitempty"`
	Normalize        string  `json:"normalize"`
	MaxSeqLength     *uint32 `json:"max_seq_length,omitempty"`
	NonDeterministic bool    `json:"non_deterministic,omitempty"`
}

// PackageIdentity names a lockfile's packet coordinates.
type PackageIdentity struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	PacketID          string `json:"packet_id"`
	ResolvedPacketID  string `json:"resolved_packet_id"`
	BuildProfile      string `json:"build_profile"`
}

// InputsFingerprint is the tuple-sorted source-tree hash fold.
type InputsFingerprint struct {
	TreeHash   string            `json:"tree_hash"`
	FileHashes map[string]string `json:"file_hashes"`
}

// ArtifactHashes names the lockfile's recorded output-file hashes.
type ArtifactHashes struct {
	ChunksManifestHash string `json:"chunks_manifest_hash"`
	EmbeddingsHash     string `json:"embeddings_hash,omitempty"`
	IndexHash          string `json:"index_hash,omitempty"`
	PacketManifestHash string `json:"packet_manifest_hash"`
}

// Resolution records lockfile generation metadata.
type Resolution struct {
	GeneratedAt string   `json:"generated_at"`
	CPMVersion  string   `json:"cpm_version"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Lockfile is cpm.lock.json's in-memory shape.
type Lockfile struct {
	LockfileVersion int               `json:"lockfileVersion"`
	Packet          PackageIdentity   `json:"packet"`
	Inputs          InputsFingerprint `json:"inputs"`
	Pipeline        []PipelineStep    `json:"pipeline"`
	Models          []ModelRecord     `json:"models"`
	Artifacts       ArtifactHashes    `json:"artifacts"`
	Resolution      Resolution        `json:"resolution"`
}

// HasNonDeterministic reports whether any pipeline step or model record is
// marked non-deterministic, used by the frozen-lockfile check.
func (l Lockfile) HasNonDeterministic() bool {
	for _, step := range l.Pipeline {
		if step.NonDeterministic {
			return true
		}
	}
	for _, m := range l.Models {
		if m.NonDeterministic {
			return true
		}
	}
	return false
}
