// Package builderconfig loads the build(source_path, destination_path,
// config) configuration from config.yml on disk and fills defaults for
// unset fields. It applies no CLI flag or environment overrides.
package builderconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cpm-dev/cpm/internal/chunk"
	"github.com/cpm-dev/cpm/internal/packet"
)

const DefaultConfigName = "config.yml"

// Chunking mirrors the token budgeter's contract fields.
type Chunking struct {
	ChunkTokens             int `yaml:"chunk_tokens"`
	OverlapTokens           int `yaml:"overlap_tokens"`
	MaxSymbolBlocksPerChunk int `yaml:"max_symbol_blocks_per_chunk"`
	HardCapTokens           int `yaml:"hard_cap_tokens"`
}

func (c Chunking) toBudget() chunk.BudgetConfig {
	return chunk.BudgetConfig{
		ChunkTokens:             c.ChunkTokens,
		OverlapTokens:           c.OverlapTokens,
		MaxSymbolBlocksPerChunk: c.MaxSymbolBlocksPerChunk,
		HardCapTokens:           c.HardCapTokens,
	}
}

// Embedding carries the embedder wiring read from config.yml's embedding
// section. Environment variables such as RAG_EMBED_URL/RAG_EMBED_MODE are
// not applied to these values.
type Embedding struct {
	URL            string  `yaml:"url"`
	Model          string  `yaml:"model"`
	Mode           string  `yaml:"mode"`
	Dim            int     `yaml:"dim"`
	MaxSeqLength   int     `yaml:"max_seq_length"`
	RequestTimeout float64 `yaml:"request_timeout"`
	MaxRetries     int     `yaml:"max_retries"`
	BatchSize      int     `yaml:"batch_size"`
}

// Archive configures the optional post-build archive step.
type Archive struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "tar.gz" or "zip"
}

// rawFile is config.yml's on-disk shape.
type rawFile struct {
	Name          string    `yaml:"name"`
	Version       string    `yaml:"version"`
	BuildProfile  string    `yaml:"build_profile"`
	Embedding     Embedding `yaml:"embedding"`
	Chunking      Chunking  `yaml:"chunking"`
	Archive       Archive   `yaml:"archive"`
	IncludeDocs   bool      `yaml:"include_docs"`
	Minimal       bool      `yaml:"minimal"`
}

// Config is the fully-resolved, immutable build configuration for one
// build(source_path, destination_path, config) invocation.
type Config struct {
	Name         string
	Version      string
	BuildProfile string
	Embedding    Embedding
	Chunking     chunk.BudgetConfig
	Archive      Archive
	IncludeDocs  bool
	Minimal      bool
}

// FromPath reads and validates config.yml at path, grounded on
// LLMBuilderPluginConfig.from_path's "read yaml, fill defaults, validate
// required fields" shape.
func FromPath(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("builderconfig: %w", err)
	}
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("builderconfig: %s must contain a mapping: %w", path, err)
	}
	return resolve(raw)
}

func resolve(raw rawFile) (Config, error) {
	if raw.Name == "" {
		return Config{}, fmt.Errorf("builderconfig: config.yml must define name")
	}
	if raw.Version == "" {
		return Config{}, fmt.Errorf("builderconfig: config.yml must define version")
	}
	if raw.Embedding.URL == "" {
		return Config{}, fmt.Errorf("builderconfig: config.yml must define embedding.url")
	}

	cfg := Config{
		Name:         raw.Name,
		Version:      raw.Version,
		BuildProfile: firstNonEmpty(raw.BuildProfile, "default"),
		Embedding:    raw.Embedding,
		Chunking:     raw.Chunking.toBudget(),
		Archive:      raw.Archive,
		IncludeDocs:  raw.IncludeDocs,
		Minimal:      raw.Minimal,
	}

	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "chunker-xxx"
	}
	if cfg.Embedding.Mode == "" {
		cfg.Embedding.Mode = "auto"
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 2
	}
	if cfg.Embedding.RequestTimeout == 0 {
		cfg.Embedding.RequestTimeout = 10.0
	}
	if cfg.Chunking.ChunkTokens == 0 {
		cfg.Chunking = chunk.DefaultBudget()
	}
	if cfg.Archive.Format == "" {
		cfg.Archive.Format = "tar.gz"
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ConfigHash returns the SHA-256 of the config's canonical JSON
// representation — the config_hash folded into packet_id and into each
// pipeline step record.
func (c Config) ConfigHash() (string, error) {
	data, err := packet.CanonicalJSON(c)
	if err != nil {
		return "", err
	}
	return packet.SHA256Hex(string(data)), nil
}
