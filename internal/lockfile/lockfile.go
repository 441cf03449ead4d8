// Package lockfile implements plan(invocation) -> ResolvedPlan,
// render(plan, artifact_hashes) -> Lockfile, write(lockfile, path), and
// verify(lockfile, plan, artifacts) -> VerifyReport.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cpm-dev/cpm/internal/packet"
)

const LockfileVersion = 1
const DefaultLockfileName = "cpm.lock.json"

// Invocation carries the plan inputs a caller has already resolved: source
// tree file hashes, the three pipeline steps, and the embedding model
// record.
type Invocation struct {
	Name         string
	Version      string
	PacketID     string
	BuildProfile string
	FileHashes   map[string]string // relpath -> sha256
	Pipeline     []packet.PipelineStep
	Models       []packet.ModelRecord
	CPMVersion   string
}

// ResolvedPlan is plan(invocation)'s deterministic output: everything a
// lockfile records except the artifact hashes, which are only known once
// the build has actually run.
type ResolvedPlan struct {
	Packet   packet.PackageIdentity
	Inputs   packet.InputsFingerprint
	Pipeline []packet.PipelineStep
	Models   []packet.ModelRecord
}

// Plan computes a ResolvedPlan from inv. Field order within slices is
// preserved from the caller; map iteration for the tree hash fold is
// sorted by relpath so the fold is independent of map iteration order.
func Plan(inv Invocation) ResolvedPlan {
	treeHash := FoldTreeHash(inv.FileHashes)
	return ResolvedPlan{
		Packet: packet.PackageIdentity{
			Name:             inv.Name,
			Version:          inv.Version,
			PacketID:         inv.PacketID,
			ResolvedPacketID: inv.PacketID,
			BuildProfile:     inv.BuildProfile,
		},
		Inputs:   packet.InputsFingerprint{TreeHash: treeHash, FileHashes: inv.FileHashes},
		Pipeline: inv.Pipeline,
		Models:   inv.Models,
	}
}

// FoldTreeHash folds a tuple-sorted (relpath, sha256) list into the input
// fingerprint's tree_hash, a domain-separated SHA-256 over the sorted
// "relpath\x00hash\n" records.
func FoldTreeHash(fileHashes map[string]string) string {
	paths := make([]string, 0, len(fileHashes))
	for p := range fileHashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	fold := ""
	for _, p := range paths {
		fold += fmt.Sprintf("%s\x00%s\n", p, fileHashes[p])
	}
	return packet.FoldSHA256(fold)
}

// Artifacts are the four SHA-256 hashes render() folds into
// Lockfile.Artifacts, each computed by the caller from the file named by
// convention: docs.jsonl, vectors.f16.bin, faiss/index.faiss, manifest.json.
type Artifacts struct {
	ChunksManifestHash string
	EmbeddingsHash     string
	IndexHash          string
	PacketManifestHash string
}

// Render builds the full Lockfile from plan and artifacts, stamping
// generatedAt and cpmVersion into the resolution section.
func Render(plan ResolvedPlan, artifacts Artifacts, cpmVersion string, generatedAt time.Time, warnings []string) packet.Lockfile {
	return packet.Lockfile{
		LockfileVersion: LockfileVersion,
		Packet:          plan.Packet,
		Inputs:          plan.Inputs,
		Pipeline:        plan.Pipeline,
		Models:          plan.Models,
		Artifacts: packet.ArtifactHashes{
			ChunksManifestHash: artifacts.ChunksManifestHash,
			EmbeddingsHash:     artifacts.EmbeddingsHash,
			IndexHash:          artifacts.IndexHash,
			PacketManifestHash: artifacts.PacketManifestHash,
		},
		Resolution: packet.Resolution{
			GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
			CPMVersion:  cpmVersion,
			Warnings:    warnings,
		},
	}
}

// Write serializes lock as canonical JSON and writes it atomically to path.
func Write(lock packet.Lockfile, path string) error {
	return packet.WriteCanonicalJSONFile(path, lock)
}

// Read loads a lockfile previously written by Write.
func Read(path string) (packet.Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return packet.Lockfile{}, err
	}
	var lock packet.Lockfile
	if err := json.Unmarshal(data, &lock); err != nil {
		return packet.Lockfile{}, err
	}
	return lock, nil
}
