package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkOrdersDeterministicallyAndSkipsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.py"), []byte("print(1)\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("print(0)\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.py"), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"), []byte{0x00, 0x01}, 0o644))

	res, err := Walk(dir, map[string]bool{".py": true})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "a.py", res.Files[0].RelPath)
	assert.Equal(t, "b.py", res.Files[1].RelPath)
	assert.Equal(t, 1, res.SkippedEmpty)
	assert.Equal(t, 1, res.SkippedExt)
}
