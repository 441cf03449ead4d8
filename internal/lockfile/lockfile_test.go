package lockfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpm-dev/cpm/internal/packet"
)

func testInvocation() Invocation {
	return Invocation{
		Name:         "docs",
		Version:      "1.0.0",
		PacketID:     "abc123",
		BuildProfile: "default",
		FileHashes:   map[string]string{"a.txt": "h1", "b.md": "h2"},
		Pipeline: []packet.PipelineStep{
			{Step: "build", Plugin: "cpm-builder", PluginVersion: "1.0.0", ConfigHash: "cfg1"},
		},
		Models: []packet.ModelRecord{
			{Provider: "openai-compatible", Model: "m", Dtype: packet.DtypeF16, Normalize: "server"},
		},
	}
}

func TestFoldTreeHashIsOrderIndependent(t *testing.T) {
	h1 := FoldTreeHash(map[string]string{"a.txt": "h1", "b.md": "h2"})
	h2 := FoldTreeHash(map[string]string{"b.md": "h2", "a.txt": "h1"})
	assert.Equal(t, h1, h2)

	h3 := FoldTreeHash(map[string]string{"a.txt": "h1", "b.md": "different"})
	assert.NotEqual(t, h1, h3)
}

func TestPlanIsDeterministic(t *testing.T) {
	inv := testInvocation()
	p1 := Plan(inv)
	p2 := Plan(inv)
	assert.Equal(t, p1, p2)
}

func TestWriteReadRoundTrip(t *testing.T) {
	plan := Plan(testInvocation())
	lock := Render(plan, Artifacts{ChunksManifestHash: "a", PacketManifestHash: "b"}, "1.0.0", time.Unix(0, 0), nil)

	path := filepath.Join(t.TempDir(), "cpm.lock.json")
	require.NoError(t, Write(lock, path))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, lock.Packet, got.Packet)
	assert.Equal(t, lock.Artifacts, got.Artifacts)
}

func TestVerifyDetectsPlanMismatch(t *testing.T) {
	inv := testInvocation()
	plan := Plan(inv)
	lock := Render(plan, Artifacts{}, "1.0.0", time.Unix(0, 0), nil)

	changedInv := inv
	changedInv.FileHashes = map[string]string{"a.txt": "different"}
	newPlan := Plan(changedInv)

	report := Verify(lock, newPlan, t.TempDir(), false)
	assert.False(t, report.PlanMatches)
	assert.NotEmpty(t, report.PlanDiff)
}

func TestVerifyArtifactMatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs.jsonl"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{}"), 0o644))

	docsHash, err := packet.FileSHA256Hex(filepath.Join(dir, "docs.jsonl"))
	require.NoError(t, err)
	manifestHash, err := packet.FileSHA256Hex(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)

	plan := Plan(testInvocation())
	lock := Render(plan, Artifacts{ChunksManifestHash: docsHash, PacketManifestHash: manifestHash}, "1.0.0", time.Unix(0, 0), nil)

	report := Verify(lock, plan, dir, false)
	assert.True(t, report.ArtifactsMatch)
	assert.True(t, report.PlanMatches)
	assert.True(t, report.OK())
}

func TestVerifyFrozenFailsOnNonDeterministicMarker(t *testing.T) {
	inv := testInvocation()
	inv.Models[0].NonDeterministic = true
	plan := Plan(inv)
	lock := Render(plan, Artifacts{}, "1.0.0", time.Unix(0, 0), nil)

	report := Verify(lock, plan, t.TempDir(), true)
	assert.False(t, report.FrozenOK)
	assert.NotEmpty(t, report.FrozenViolations)
}
