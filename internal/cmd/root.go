// Package cmd wires the dmake command-line surface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dmakehq/dmake/internal/config"
	"github.com/dmakehq/dmake/internal/logging"
)

var (
	rootFile    string
	rootVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "dmake",
	Short: "dmake - declarative multi-image container builds",
	Long: `dmake builds families of related container images from a single
declarative definition file. Builds are ordered by their declared
dependencies, base-image references are rewritten to the exact image a
dependency produced, and pushes are gated by per-rule policies derived
from the release context.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(os.Stderr, rootVerbose)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFile, "file", "f", config.DefaultFileName, "Definition file to use")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
}
