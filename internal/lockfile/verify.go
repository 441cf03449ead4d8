package lockfile

import (
	"fmt"
	"path/filepath"
	"reflect"

	"github.com/cpm-dev/cpm/internal/packet"
)

// VerifyReport is verify()'s structured outcome — it never throws for a
// mismatch; callers decide whether any of these constitutes a hard error.
type VerifyReport struct {
	PlanMatches       bool
	PlanDiff          []string
	ArtifactsMatch    bool
	ArtifactMismatch  []string
	FrozenOK          bool
	FrozenViolations  []string
}

// OK reports whether every requested tier passed.
func (r VerifyReport) OK() bool {
	return r.PlanMatches && r.ArtifactsMatch && r.FrozenOK
}

// Verify runs the three independent tiers against lock: plan match against
// freshly computed plan, artifact hash match against packetDir's on-disk
// files, and (when frozen is true) the frozen-determinism check.
func Verify(lock packet.Lockfile, plan ResolvedPlan, packetDir string, frozen bool) VerifyReport {
	report := VerifyReport{FrozenOK: true}

	report.PlanDiff = diffPlan(lock, plan)
	report.PlanMatches = len(report.PlanDiff) == 0

	report.ArtifactMismatch = diffArtifacts(lock, packetDir)
	report.ArtifactsMatch = len(report.ArtifactMismatch) == 0

	if frozen {
		if lock.HasNonDeterministic() {
			report.FrozenOK = false
			report.FrozenViolations = nonDeterministicMarkers(lock)
		}
	}
	return report
}

func diffPlan(lock packet.Lockfile, plan ResolvedPlan) []string {
	var diffs []string
	if !reflect.DeepEqual(lock.Packet, plan.Packet) {
		diffs = append(diffs, "packet section differs from plan")
	}
	if !reflect.DeepEqual(lock.Inputs, plan.Inputs) {
		diffs = append(diffs, "inputs section differs from plan (tree hash or file hashes changed)")
	}
	if !reflect.DeepEqual(lock.Pipeline, plan.Pipeline) {
		diffs = append(diffs, "pipeline section differs from plan")
	}
	if !reflect.DeepEqual(lock.Models, plan.Models) {
		diffs = append(diffs, "models section differs from plan")
	}
	return diffs
}

// artifactConvention maps each artifacts field to the file it names, by
// convention (spec's "docs.jsonl -> chunks_manifest_hash" table).
type artifactConvention struct {
	relPath string
	label   string
	want    string
}

func diffArtifacts(lock packet.Lockfile, packetDir string) []string {
	conventions := []artifactConvention{
		{relPath: "docs.jsonl", label: "chunks_manifest_hash", want: lock.Artifacts.ChunksManifestHash},
		{relPath: "manifest.json", label: "packet_manifest_hash", want: lock.Artifacts.PacketManifestHash},
	}
	if lock.Artifacts.EmbeddingsHash != "" {
		conventions = append(conventions, artifactConvention{relPath: "vectors.f16.bin", label: "embeddings_hash", want: lock.Artifacts.EmbeddingsHash})
	}
	if lock.Artifacts.IndexHash != "" {
		conventions = append(conventions, artifactConvention{relPath: filepath.Join("faiss", "index.faiss"), label: "index_hash", want: lock.Artifacts.IndexHash})
	}

	var mismatches []string
	for _, c := range conventions {
		got, err := packet.FileSHA256Hex(filepath.Join(packetDir, c.relPath))
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: %s missing or unreadable: %v", c.label, c.relPath, err))
			continue
		}
		if got != c.want {
			mismatches = append(mismatches, fmt.Sprintf("%s: %s hash %s does not match lockfile %s", c.label, c.relPath, got, c.want))
		}
	}
	return mismatches
}

func nonDeterministicMarkers(lock packet.Lockfile) []string {
	var markers []string
	for _, step := range lock.Pipeline {
		if step.NonDeterministic {
			markers = append(markers, fmt.Sprintf("pipeline step %q is non_deterministic", step.Step))
		}
	}
	for _, m := range lock.Models {
		if m.NonDeterministic {
			markers = append(markers, fmt.Sprintf("model %q is non_deterministic", m.Model))
		}
	}
	return markers
}
