package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cpm-dev/cpm/internal/builderconfig"
	"github.com/cpm-dev/cpm/internal/lockfile"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and verify packet lockfiles",
}

var (
	lockSource string
	lockDest   string
	lockConfig string
	lockFrozen bool
)

var lockVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a lockfile's plan, artifact hashes, and (optionally) determinism against the current source tree",
	RunE:  runLockVerify,
}

func init() {
	lockVerifyCmd.Flags().StringVar(&lockSource, "source", "", "source directory the packet was built from (required)")
	lockVerifyCmd.Flags().StringVar(&lockDest, "dest", "", "packet directory containing cpm.lock.json (required)")
	lockVerifyCmd.Flags().StringVar(&lockConfig, "config", builderconfig.DefaultConfigName, "path to config.yml")
	lockVerifyCmd.Flags().BoolVar(&lockFrozen, "frozen", false, "fail if any pipeline step or model is non-deterministic")
	_ = lockVerifyCmd.MarkFlagRequired("source")
	_ = lockVerifyCmd.MarkFlagRequired("dest")

	lockCmd.AddCommand(lockVerifyCmd)
	rootCmd.AddCommand(lockCmd)
}

func runLockVerify(cmd *cobra.Command, args []string) error {
	lockPath := filepath.Join(lockDest, lockfile.DefaultLockfileName)
	lock, err := lockfile.Read(lockPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", lockPath, err)
	}

	cfg, err := builderconfig.FromPath(lockConfig)
	if err != nil {
		return err
	}
	inv, err := planInvocation(lockSource, cfg, lock.Packet.PacketID)
	if err != nil {
		return err
	}
	plan := lockfile.Plan(inv)

	report := lockfile.Verify(lock, plan, lockDest, lockFrozen)
	fmt.Printf("plan_matches=%t artifacts_match=%t frozen_ok=%t\n", report.PlanMatches, report.ArtifactsMatch, report.FrozenOK)
	if len(report.PlanDiff) > 0 {
		fmt.Printf("plan diff: %v\n", report.PlanDiff)
	}
	if len(report.ArtifactMismatch) > 0 {
		fmt.Printf("artifact mismatch: %v\n", report.ArtifactMismatch)
	}
	if len(report.FrozenViolations) > 0 {
		fmt.Printf("frozen violations: %v\n", report.FrozenViolations)
	}
	if !report.OK() {
		return fmt.Errorf("lockfile verification failed")
	}
	return nil
}
