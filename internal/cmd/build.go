package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmakehq/dmake/internal/builder"
	"github.com/dmakehq/dmake/internal/cleanup"
	"github.com/dmakehq/dmake/internal/config"
	"github.com/dmakehq/dmake/internal/engine"
	"github.com/dmakehq/dmake/internal/graph"
	"github.com/dmakehq/dmake/internal/release"
	"github.com/dmakehq/dmake/internal/watcher"
)

var (
	buildNoPush bool
	buildDryRun bool
	buildWatch  bool
)

var buildCmd = &cobra.Command{
	Use:   "build [build...]",
	Short: "Build images in dependency order",
	Long: `Build the named images, or every image when none are named.

Dependencies of the requested builds are always included and built
first. Push rules attached to each build decide what gets published;
--no-push tags but never publishes.

Examples:
  dmake build                   # Build everything
  dmake build api               # Build api and its dependencies
  dmake build --no-push         # Build and tag, skip publishing
  dmake build --dry-run         # Print equivalent docker invocations
  dmake build --watch api       # Rebuild api whenever its context changes`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().BoolVar(&buildNoPush, "no-push", false, "Tag images but skip publishing")
	buildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "Print equivalent invocations without building")
	buildCmd.Flags().BoolVar(&buildWatch, "watch", false, "Rebuild on context changes (implies --no-push)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	file, err := loadFile()
	if err != nil {
		return err
	}

	order, err := graph.Resolve(file.Builds)
	if err != nil {
		return err
	}
	want, err := graph.Expand(file.Builds, args)
	if err != nil {
		return err
	}

	rc := release.Capture(file.Generators()...)

	var eng engine.Engine
	if !buildDryRun {
		eng, err = engine.NewDocker(os.Stdout)
		if err != nil {
			return err
		}
	}

	artifacts := cleanup.NewRegistry()
	defer artifacts.Drain()

	runner := &builder.Runner{
		Engine:    eng,
		Release:   rc,
		Artifacts: artifacts,
		NoPush:    buildNoPush || buildWatch,
		DryRun:    buildDryRun,
		Out:       os.Stdout,
	}
	if !rootVerbose && !buildDryRun {
		runner.Progress = os.Stderr
	}

	if err := runner.Run(ctx, file.Builds, order, want); err != nil {
		if !buildWatch {
			return err
		}
		slog.Error("build failed, watching for changes", "error", err)
	}

	if !buildWatch || buildDryRun {
		return nil
	}
	return watchLoop(ctx, runner, file, order, want)
}

// watchLoop reruns the selected builds whenever a watched context changes,
// until interrupted.
func watchLoop(ctx context.Context, runner *builder.Runner, file *config.File, order []string, want map[string]bool) error {
	dirs := make(map[string]bool)
	for name := range want {
		dirs[file.Builds[name].Context] = true
	}
	watched := make([]string, 0, len(dirs))
	for dir := range dirs {
		watched = append(watched, dir)
	}
	sort.Strings(watched)

	cfg := watcher.DefaultConfig(watched)
	w, err := watcher.New(cfg)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	slog.Info("watching for changes", "dirs", watched)

	for {
		select {
		case <-ctx.Done():
			return nil
		case werr := <-w.Errors():
			slog.Warn("watch error", "error", werr)
		case change := <-w.Changes():
			slog.Info("change detected, rebuilding", "path", change.Path)
			if err := runner.Run(ctx, file.Builds, order, want); err != nil {
				slog.Error("rebuild failed", "error", err)
			}
			// The rebuild wrote into the watched contexts; absorb the
			// changes it caused before listening again.
			w.Drain(2 * cfg.Debounce)
		}
	}
}

// loadFile loads the definition file from --file and resolves every
// relative path in it: contexts against the file's directory, dockerfiles
// against their build's context.
func loadFile() (*config.File, error) {
	path, err := filepath.Abs(rootFile)
	if err != nil {
		return nil, err
	}

	file, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	for _, def := range file.Builds {
		if !filepath.IsAbs(def.Context) {
			def.Context = filepath.Join(dir, def.Context)
		}
		if !filepath.IsAbs(def.Dockerfile) {
			def.Dockerfile = filepath.Join(def.Context, def.Dockerfile)
		}
	}

	return file, nil
}
