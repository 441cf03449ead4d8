package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cpm-dev/cpm/internal/cpmenv"
	"github.com/cpm-dev/cpm/internal/oci"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Inspect installed packets",
}

var installStatusCmd = &cobra.Command{
	Use:   "status <packet-name>",
	Short: "Show a packet's install lock: resolved sources, digest, and trust score",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstallStatus,
}

func init() {
	installCmd.AddCommand(installStatusCmd)
	rootCmd.AddCommand(installCmd)
}

func runInstallStatus(cmd *cobra.Command, args []string) error {
	env := cpmenv.Resolve()
	lock, ok := oci.ReadInstallLock(env.CPMRoot, args[0])
	if !ok {
		return fmt.Errorf("no install lock found for %q under %s", args[0], env.CPMRoot)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(lock)
}
