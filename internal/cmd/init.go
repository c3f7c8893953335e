package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dmakehq/dmake/internal/config"
	"github.com/dmakehq/dmake/internal/ui"
	"github.com/dmakehq/dmake/pkg/xos"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter definition file",
	Long: `Interactively creates a ` + config.DefaultFileName + ` in the current
directory with a single build, ready to extend with dependencies, labels,
and push rules.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing definition file")
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	path := filepath.Join(cwd, config.DefaultFileName)

	if _, err := os.Stat(path); err == nil && !initForce {
		overwrite, err := ui.AskConfirm(config.DefaultFileName+" already exists. Overwrite?", false)
		if err != nil {
			return err
		}
		if !overwrite {
			return nil
		}
	}

	name, err := ui.AskText("Build name", filepath.Base(cwd))
	if err != nil {
		return err
	}
	context, err := ui.AskText("Build context", ".")
	if err != nil {
		return err
	}
	dockerfile, err := ui.AskText("Dockerfile (relative to context)", "Dockerfile")
	if err != nil {
		return err
	}
	repo, err := ui.AskText("Push repository (empty to skip)", "")
	if err != nil {
		return err
	}

	content := fmt.Sprintf(`builds:
  %s:
    context: %s
    dockerfile: %s
`, name, context, dockerfile)
	if repo != "" {
		content += fmt.Sprintf(`    pushes:
      - on_branch:main=%s:{date}-{scommitid}
`, repo)
	}

	if err := xos.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}

	fmt.Println(ui.SuccessStyle.Render("Created " + config.DefaultFileName))
	return nil
}
