package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dmakehq/dmake/internal/cleanup"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove extracted build artifacts",
	Long: `Removes every extraction destination declared in the definition
file. Missing files are skipped; non-empty directories are left alone.`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	file, err := loadFile()
	if err != nil {
		return err
	}

	artifacts := cleanup.NewRegistry()
	for _, def := range file.Builds {
		for _, rule := range def.Extract {
			dst := rule.Dst
			if !filepath.IsAbs(dst) {
				dst = filepath.Join(def.Context, dst)
			}
			artifacts.Register(dst)
		}
	}

	artifacts.Drain()
	return nil
}
