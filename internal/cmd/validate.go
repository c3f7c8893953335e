package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmakehq/dmake/internal/builder"
	"github.com/dmakehq/dmake/internal/graph"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the definition file",
	Long: `Validates the definition file against its schema and checks the
dependency graph for cycles, self-dependencies, and dangling references.
Push rules with an unrecognized mode are reported as warnings; at build
time they silently evaluate to "do not push".`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	file, err := loadFile()
	if err != nil {
		return err
	}

	if _, err := graph.Resolve(file.Builds); err != nil {
		return err
	}

	warnings := 0
	for name, def := range file.Builds {
		for _, rule := range def.PushRules {
			if !knownPushMode(rule.Mode) {
				fmt.Printf("warning: build %q: unrecognized push mode %q (will never push)\n", name, rule.Mode)
				warnings++
			}
		}
	}

	if warnings > 0 {
		fmt.Printf("%s is valid (%d warnings)\n", rootFile, warnings)
	} else {
		fmt.Printf("%s is valid\n", rootFile)
	}
	return nil
}

func knownPushMode(mode string) bool {
	switch mode {
	case builder.PushAlways, builder.PushNever, builder.PushOnTag:
		return true
	}
	// A bare "on_branch:" has no name to match and never pushes.
	return strings.HasPrefix(mode, builder.PushOnBranchPrefix) &&
		mode != builder.PushOnBranchPrefix
}
