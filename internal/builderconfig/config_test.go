package builderconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFromPathFillsDefaults(t *testing.T) {
	path := writeTempConfig(t, `
name: docs
version: 1.0.0
embedding:
  url: http://localhost:8080/v1/embeddings
`)
	cfg, err := FromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "docs", cfg.Name)
	assert.Equal(t, "default", cfg.BuildProfile)
	assert.Equal(t, "auto", cfg.Embedding.Mode)
	assert.Equal(t, 2, cfg.Embedding.MaxRetries)
	assert.Equal(t, 800, cfg.Chunking.ChunkTokens)
	assert.Equal(t, "tar.gz", cfg.Archive.Format)
}

func TestFromPathRequiresEmbeddingURL(t *testing.T) {
	path := writeTempConfig(t, `
name: docs
version: 1.0.0
`)
	_, err := FromPath(path)
	require.Error(t, err)
}

func TestConfigHashIsStableAcrossEqualConfigs(t *testing.T) {
	path := writeTempConfig(t, `
name: docs
version: 1.0.0
embedding:
  url: http://localhost:8080/v1/embeddings
`)
	cfg1, err := FromPath(path)
	require.NoError(t, err)
	cfg2, err := FromPath(path)
	require.NoError(t, err)

	h1, err := cfg1.ConfigHash()
	require.NoError(t, err)
	h2, err := cfg2.ConfigHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
