package builder

import (
	"context"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/dmakehq/dmake/internal/cleanup"
	"github.com/dmakehq/dmake/internal/config"
	"github.com/dmakehq/dmake/internal/engine"
	"github.com/dmakehq/dmake/internal/release"
)

// Runner executes the selected builds sequentially in dependency order.
// Builds never overlap: a dependency's final image id must be fully
// resolved before any dependent's lifecycle starts, and the engine daemon
// is treated as a serially-accessed resource.
type Runner struct {
	Engine    engine.Engine
	Release   *release.Context
	Artifacts *cleanup.Registry

	// NoPush skips the publish stage; tags are still applied.
	NoPush bool
	// DryRun prints equivalent invocations instead of contacting the engine.
	DryRun bool
	// Out receives dry-run lines. Defaults to os.Stdout.
	Out io.Writer
	// Progress, when set, receives a per-build progress bar.
	Progress io.Writer

	records map[string]*Build
}

// Record returns the build record for a name, if one was created.
func (r *Runner) Record(name string) (*Build, bool) {
	b, ok := r.records[name]
	return b, ok
}

// Run walks order, executing the lifecycle for every build in the want
// set. The first failure aborts the run; completed builds and pushes are
// not undone.
func (r *Runner) Run(ctx context.Context, defs map[string]*config.Definition, order []string, want map[string]bool) error {
	out := r.Out
	if out == nil {
		out = os.Stdout
	}
	r.records = make(map[string]*Build, len(want))

	selected := make([]string, 0, len(want))
	for _, name := range order {
		if want[name] {
			selected = append(selected, name)
		}
	}

	var bar *progressbar.ProgressBar
	if r.Progress != nil && !r.DryRun {
		bar = progressbar.NewOptions(len(selected),
			progressbar.OptionSetDescription("building"),
			progressbar.OptionSetWriter(r.Progress),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() {
				io.WriteString(r.Progress, "\n")
			}),
		)
	}

	for _, name := range selected {
		b := New(defs[name], r.Engine, r.Release, r.Artifacts, r.Record)
		r.records[name] = b

		if r.DryRun {
			b.DryRun(out)
			continue
		}

		if bar != nil {
			bar.Describe("building " + name)
		}

		if err := b.Build(ctx); err != nil {
			return err
		}
		if err := b.Tag(ctx); err != nil {
			return err
		}
		if !r.NoPush {
			if err := b.Push(ctx); err != nil {
				return err
			}
		}
		b.Done()

		if bar != nil {
			bar.Add(1)
		}
	}

	return nil
}
