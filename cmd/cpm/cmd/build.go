package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cpm-dev/cpm/internal/builder"
	"github.com/cpm-dev/cpm/internal/builderconfig"
	"github.com/cpm-dev/cpm/internal/chunk"
	"github.com/cpm-dev/cpm/internal/embedding"
	"github.com/cpm-dev/cpm/internal/lockfile"
	"github.com/cpm-dev/cpm/internal/packet"
	"github.com/cpm-dev/cpm/internal/scan"
)

// cpmVersion is stamped into every lockfile's resolution.cpm_version.
const cpmVersion = "0.1.0"

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build and verify context packets",
}

var (
	buildSource     string
	buildDest       string
	buildConfigPath string
	buildReuse      bool
	buildUpdateLock bool
	buildFrozenLock bool
)

var buildRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan, chunk, embed, index, and persist a packet",
	RunE:  runBuildRun,
}

var buildVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute a built packet's checksums and compare against manifest.json",
	RunE:  runBuildVerify,
}

func init() {
	buildRunCmd.Flags().StringVar(&buildSource, "source", "", "source directory to build from (required)")
	buildRunCmd.Flags().StringVar(&buildDest, "dest", "", "destination packet directory (required)")
	buildRunCmd.Flags().StringVar(&buildConfigPath, "config", builderconfig.DefaultConfigName, "path to config.yml")
	buildRunCmd.Flags().BoolVar(&buildReuse, "reuse", false, "allow building into a destination that already has a packet")
	buildRunCmd.Flags().BoolVar(&buildUpdateLock, "update-lock", false, "write the lockfile even if plan verification would otherwise fail")
	buildRunCmd.Flags().BoolVar(&buildFrozenLock, "frozen-lockfile", false, "abort if any pipeline step or model is non-deterministic")
	_ = buildRunCmd.MarkFlagRequired("source")
	_ = buildRunCmd.MarkFlagRequired("dest")

	buildVerifyCmd.Flags().StringVar(&buildDest, "dest", "", "packet directory to verify (required)")
	_ = buildVerifyCmd.MarkFlagRequired("dest")

	buildCmd.AddCommand(buildRunCmd, buildVerifyCmd)
	rootCmd.AddCommand(buildCmd)
}

func runBuildRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := builderconfig.FromPath(buildConfigPath)
	if err != nil {
		return err
	}

	client, err := embedding.NewClient(cfg.Embedding.URL, os.Getenv("EMBEDDING_API_KEY"))
	if err != nil {
		return err
	}
	embedder := embedding.NewEmbedder(client, cfg.Embedding.Model,
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithMaxRetries(cfg.Embedding.MaxRetries),
		embedding.WithTimeout(time.Duration(cfg.Embedding.RequestTimeout*float64(time.Second))),
	)

	pipeline := builder.NewPipeline(embedder, slog.Default())

	lockPath := filepath.Join(buildDest, lockfile.DefaultLockfileName)
	existingLock, hasLock := tryReadLock(lockPath)

	inv, err := planInvocation(buildSource, cfg, builder.PacketID(cfg, buildSource))
	if err != nil {
		return err
	}
	plan := lockfile.Plan(inv)

	if hasLock && !buildUpdateLock {
		report := lockfile.Verify(existingLock, plan, buildDest, buildFrozenLock)
		if !report.PlanMatches {
			return fmt.Errorf("lockfile plan mismatch, re-run with --update-lock to accept:\n  %v", report.PlanDiff)
		}
		if buildFrozenLock && !report.FrozenOK {
			return fmt.Errorf("frozen-lockfile violation:\n  %v", report.FrozenViolations)
		}
	}

	result, err := pipeline.Build(ctx, buildSource, buildDest, cfg, buildReuse)
	if err != nil {
		return err
	}

	inv.PacketID = result.Manifest.PacketID
	plan = lockfile.Plan(inv)

	artifacts, err := computeArtifacts(buildDest)
	if err != nil {
		return err
	}
	lock := lockfile.Render(plan, artifacts, cpmVersion, time.Now(), nil)
	if err := lockfile.Write(lock, lockPath); err != nil {
		return err
	}

	fmt.Printf("built %s@%s (packet_id=%s) into %s\n", cfg.Name, cfg.Version, result.Manifest.PacketID, buildDest)
	return nil
}

func runBuildVerify(cmd *cobra.Command, args []string) error {
	manifestPath := filepath.Join(buildDest, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	var manifest packet.PacketManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return err
	}

	names := []string{"docs.jsonl"}
	if manifest.Files.Vectors != nil {
		names = append(names, *manifest.Files.Vectors)
	}
	if manifest.Files.Index != nil {
		names = append(names, *manifest.Files.Index)
	}
	fresh, err := packet.ComputeChecksums(buildDest, names)
	if err != nil {
		return err
	}

	var mismatches []string
	for name, want := range manifest.Checksums {
		got, ok := fresh[name]
		if !ok || got.Value != want.Value {
			mismatches = append(mismatches, name)
		}
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("checksum mismatch for: %v", mismatches)
	}
	fmt.Printf("%s: all checksums verified\n", buildDest)
	return nil
}

// planInvocation walks sourcePath to build the lockfile Invocation's file
// hashes and pipeline/model records for cfg. packetID may be empty when
// called before a build has produced one.
func planInvocation(sourcePath string, cfg builderconfig.Config, packetID string) (lockfile.Invocation, error) {
	scanResult, err := scan.Walk(sourcePath, chunk.SupportedExts())
	if err != nil {
		return lockfile.Invocation{}, err
	}
	fileHashes := make(map[string]string, len(scanResult.Files))
	for _, f := range scanResult.Files {
		fileHashes[f.RelPath] = packet.SHA256Hex(f.Text)
	}

	configHash, err := cfg.ConfigHash()
	if err != nil {
		return lockfile.Invocation{}, err
	}

	pipelineSteps := []packet.PipelineStep{
		{Step: "build", Plugin: "cpm.builder", PluginVersion: cpmVersion, ConfigHash: configHash},
		{Step: "embed", Plugin: "cpm.embedding", PluginVersion: cpmVersion, ConfigHash: configHash},
		{Step: "index", Plugin: "cpm.packet.flatip", PluginVersion: cpmVersion, ConfigHash: configHash},
	}
	models := []packet.ModelRecord{{
		Provider:  "openai-compatible",
		Model:     cfg.Embedding.Model,
		Dtype:     packet.DtypeF16,
		Normalize: cfg.Embedding.Mode,
	}}

	return lockfile.Invocation{
		Name:         cfg.Name,
		Version:      cfg.Version,
		PacketID:     packetID,
		BuildProfile: cfg.BuildProfile,
		FileHashes:   fileHashes,
		Pipeline:     pipelineSteps,
		Models:       models,
		CPMVersion:   cpmVersion,
	}, nil
}

func computeArtifacts(packetDir string) (lockfile.Artifacts, error) {
	indexRelPath := filepath.Join("faiss", "index.faiss")
	sums, err := packet.ComputeChecksums(packetDir, []string{"docs.jsonl", "vectors.f16.bin", indexRelPath, "manifest.json"})
	if err != nil {
		return lockfile.Artifacts{}, err
	}
	return lockfile.Artifacts{
		ChunksManifestHash: sums["docs.jsonl"].Value,
		EmbeddingsHash:     sums["vectors.f16.bin"].Value,
		IndexHash:          sums[indexRelPath].Value,
		PacketManifestHash: sums["manifest.json"].Value,
	}, nil
}

func tryReadLock(path string) (packet.Lockfile, bool) {
	lock, err := lockfile.Read(path)
	if err != nil {
		return packet.Lockfile{}, false
	}
	return lock, true
}
