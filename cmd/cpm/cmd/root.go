// Package cmd implements cpm's cobra command tree: build run|verify, lock
// verify, query, and install status.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "cpm",
	Short:        "cpm builds, distributes, and queries content-addressed context packets",
	SilenceUsage: true,
}

// Execute runs the command tree; on error it prints the error to stderr and
// exits the process with status 1.
func Execute() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
