// Package cmd is the cobra CLI surface: a thin collaborator over the engine
// package, grounded on the teacher's cmd/root.go flag-var-plus-init()
// convention.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "batchsim",
	Short: "Batch-accelerated population protocol simulator",
}

// Execute runs the CLI root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
