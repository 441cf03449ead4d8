// Package cpmenv resolves CPM's process-wide configuration knobs from the
// environment. It is the only internal package that reads os.Getenv; every
// other internal package receives these values as explicit constructor
// parameters, per the "no global mutable state" design note. The cmd entry
// points read credentials (REGISTRY_TOKEN, EMBEDDING_API_KEY) and, in
// cpm-mcp, PORT and SERVER_MODE directly.
package cpmenv

import (
	"os"
	"path/filepath"
)

const (
	defaultCPMRoot = ".cpm"
)

// Env holds the resolved environment-derived defaults for one process.
type Env struct {
	// CPMRoot is the workspace/cache root (spec default ".cpm").
	CPMRoot string
	// Registry is the default OCI registry base for non-fully-qualified refs.
	Registry string
	// EmbeddingURL is the default embedding endpoint.
	EmbeddingURL string
	// EmbeddingModel is the default embedding model id.
	EmbeddingModel string
	// EmbedMode mirrors the legacy RAG_EMBED_MODE toggle ("http" by default).
	EmbedMode string
}

// Resolve reads CPM_ROOT/REGISTRY/EMBEDDING_URL/EMBEDDING_MODEL and their
// legacy RAG_* fallbacks from the environment.
func Resolve() Env {
	return Env{
		CPMRoot:        firstNonEmpty(os.Getenv("CPM_ROOT"), os.Getenv("RAG_CPM_DIR"), defaultCPMRoot),
		Registry:       os.Getenv("REGISTRY"),
		EmbeddingURL:   firstNonEmpty(os.Getenv("EMBEDDING_URL"), os.Getenv("RAG_EMBED_URL")),
		EmbeddingModel: os.Getenv("EMBEDDING_MODEL"),
		EmbedMode:      firstNonEmpty(os.Getenv("RAG_EMBED_MODE"), "http"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Layout describes the fixed sub-paths under a CPMRoot, per the cache
// layout contract.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	if root == "" {
		root = defaultCPMRoot
	}
	return Layout{Root: root}
}

func (l Layout) CASDir(digest string) string        { return filepath.Join(l.Root, "cas", digest) }
func (l Layout) CASPayloadDir(digest string) string { return filepath.Join(l.Root, "cas", digest, "payload") }
func (l Layout) CASLockPath(digest string) string   { return filepath.Join(l.Root, "cas", digest+".lock") }
func (l Layout) IndexDir(digest, fp string) string  { return filepath.Join(l.Root, "index", digest, fp) }
func (l Layout) IndexLockPath(digest, fp string) string {
	return filepath.Join(l.Root, "index", digest, fp, ".lock")
}
func (l Layout) MetaDir(digest string) string { return filepath.Join(l.Root, "meta", digest) }
func (l Layout) MetaManifestPath(digest string) string {
	return filepath.Join(l.Root, "meta", digest, "packet.manifest.json")
}
func (l Layout) MetadataCachePath(digest string) string {
	return filepath.Join(l.Root, "cache", "metadata", digest+".json")
}
func (l Layout) MetadataAliasCachePath(aliasHash string) string {
	return filepath.Join(l.Root, "cache", "metadata_alias", aliasHash+".json")
}
func (l Layout) InstallLockPath(packetName string) string {
	return filepath.Join(l.Root, "state", "install", packetName+".lock.json")
}
