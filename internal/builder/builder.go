// Package builder drives the per-build lifecycle: image construction with
// transactional manifest rewriting, label attachment, content extraction,
// and policy-driven tagging and publishing.
package builder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmakehq/dmake/internal/cleanup"
	"github.com/dmakehq/dmake/internal/config"
	"github.com/dmakehq/dmake/internal/engine"
	"github.com/dmakehq/dmake/internal/release"
	"github.com/dmakehq/dmake/pkg/xos"
)

// Stage is the lifecycle position of a build record.
type Stage string

const (
	StagePending    Stage = "pending"
	StageBuilding   Stage = "building"
	StageLabeling   Stage = "labeling"
	StageExtracting Stage = "extracting"
	StageBuilt      Stage = "built"
	StageTagging    Stage = "tagging"
	StagePushing    Stage = "pushing"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Build is the mutable record for one definition: lifecycle stage, the
// unlabeled and final image ids, and the labels that were applied. One
// record exists per definition for the duration of the run.
type Build struct {
	def       *config.Definition
	eng       engine.Engine
	rc        *release.Context
	artifacts *cleanup.Registry
	lookup    func(name string) (*Build, bool)

	stage Stage

	// Unlabeled is the image id from the build stage; Final is the id
	// after labeling and equals Unlabeled when no labels apply.
	Unlabeled string
	Final     string

	// AppliedLabels holds the rendered key="value" assignments.
	AppliedLabels []string
}

// New creates a pending build record. lookup resolves other builds' records
// for base-image rewriting; it only ever sees builds earlier in the
// dependency order.
func New(def *config.Definition, eng engine.Engine, rc *release.Context, artifacts *cleanup.Registry, lookup func(string) (*Build, bool)) *Build {
	return &Build{
		def:       def,
		eng:       eng,
		rc:        rc,
		artifacts: artifacts,
		lookup:    lookup,
		stage:     StagePending,
	}
}

// Name returns the definition name.
func (b *Build) Name() string { return b.def.Name }

// Stage returns the current lifecycle stage.
func (b *Build) Stage() Stage { return b.stage }

func (b *Build) setStage(s Stage) {
	b.stage = s
	slog.Info("stage", "build", b.def.Name, "stage", string(s))
}

// Build runs the construction stages: build the image (with manifest
// rewrite and ignore-file generation where configured), apply labels, and
// extract configured paths. On return the record's Final image id is set
// and dependents may read it.
func (b *Build) Build(ctx context.Context) error {
	b.setStage(StageBuilding)
	unlabeled, err := b.buildImage(ctx)
	if err != nil {
		b.setStage(StageFailed)
		return fmt.Errorf("%w: build %q: %v", ErrBuildFailed, b.def.Name, err)
	}
	b.Unlabeled = unlabeled
	b.Final = unlabeled

	if len(b.def.LabelPairs) > 0 {
		b.setStage(StageLabeling)
		final, err := b.applyLabels(ctx)
		if err != nil {
			b.setStage(StageFailed)
			return fmt.Errorf("%w: label %q: %v", ErrBuildFailed, b.def.Name, err)
		}
		b.Final = final
	}

	if len(b.def.Extract) > 0 {
		b.setStage(StageExtracting)
		if err := b.extract(ctx); err != nil {
			b.setStage(StageFailed)
			return fmt.Errorf("%w: extract %q: %v", ErrBuildFailed, b.def.Name, err)
		}
	}

	b.setStage(StageBuilt)
	return nil
}

// buildImage performs the engine build call with its two transactional
// filesystem preparations: the generated ignore file is removed after the
// call when it was generated here, and a rewritten manifest is restored to
// its original bytes on every exit path.
func (b *Build) buildImage(ctx context.Context) (string, error) {
	dockerfile, err := b.manifestInContext()
	if err != nil {
		return "", err
	}

	removeIgnore, err := ensureIgnoreFile(b.def.Context, b.def.Dockerignore)
	if err != nil {
		return "", err
	}
	defer removeIgnore()

	if b.def.RewriteFrom != "" {
		dep, ok := b.lookup(b.def.RewriteFrom)
		if !ok || dep.Final == "" {
			return "", fmt.Errorf("dependency %q has no built image", b.def.RewriteFrom)
		}

		restore, err := rewriteManifest(b.def.Dockerfile, dep.Final)
		if err != nil {
			return "", err
		}
		defer func() {
			if rerr := restore(); rerr != nil {
				slog.Error("manifest restore failed", "build", b.def.Name, "error", rerr)
			}
		}()
	}

	return b.eng.Build(ctx, engine.BuildOptions{
		ContextDir: b.def.Context,
		Dockerfile: dockerfile,
	})
}

// manifestInContext returns the Dockerfile path relative to the build
// context, rejecting manifests outside it (they cannot be uploaded).
func (b *Build) manifestInContext() (string, error) {
	rel, err := filepath.Rel(b.def.Context, b.def.Dockerfile)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dockerfile %s is outside build context %s", b.def.Dockerfile, b.def.Context)
	}
	return rel, nil
}

// applyLabels builds the ephemeral one-off manifest (FROM the unlabeled
// image plus a single LABEL directive) and returns the final image id. A
// label whose template cannot render is skipped with a warning; if nothing
// renders the unlabeled image stands as final.
func (b *Build) applyLabels(ctx context.Context) (string, error) {
	assignments := b.renderLabels()
	if len(assignments) == 0 {
		return b.Unlabeled, nil
	}

	manifest := fmt.Sprintf("FROM %s\nLABEL %s\n", b.Unlabeled, strings.Join(assignments, " "))
	final, err := b.eng.BuildInline(ctx, []byte(manifest))
	if err != nil {
		return "", err
	}
	b.AppliedLabels = assignments
	return final, nil
}

func (b *Build) renderLabels() []string {
	assignments := make([]string, 0, len(b.def.LabelPairs))
	for _, label := range b.def.LabelPairs {
		value, err := release.Render(label.Template, b.rc.LabelArgs())
		if err != nil {
			slog.Warn("skipping label", "build", b.def.Name, "label", label.Key, "error", err)
			continue
		}
		assignments = append(assignments, label.Key+"="+strconv.Quote(value))
	}
	return assignments
}

// extract copies each configured source path out of the final image. Every
// rule runs an ephemeral container that is removed whether or not the copy
// succeeds, and each written destination is registered for cleanup at
// process exit.
func (b *Build) extract(ctx context.Context) error {
	for _, rule := range b.def.Extract {
		dst := rule.Dst
		if !filepath.IsAbs(dst) {
			dst = filepath.Join(b.def.Context, dst)
		}
		if err := b.extractOne(ctx, rule.Src, dst); err != nil {
			return fmt.Errorf("extract %s: %w", rule.Src, err)
		}
	}
	return nil
}

func (b *Build) extractOne(ctx context.Context, src, dst string) error {
	containerID, err := b.eng.CreateContainer(ctx, b.Final)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.eng.RemoveContainer(ctx, containerID); err != nil {
			slog.Warn("failed to remove extraction container", "build", b.def.Name, "container", containerID, "error", err)
		}
	}()

	stream, err := b.eng.CopyFromContainer(ctx, containerID, src)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	// The archive stream is written verbatim; the destination receives a
	// tar file, not the unpacked tree.
	if err := xos.WriteReader(dst, stream, 0o644); err != nil {
		return err
	}

	b.artifacts.Register(dst)
	slog.Debug("extracted", "build", b.def.Name, "src", src, "dst", dst)
	return nil
}

// Tag renders and applies every push rule's tag to the final image. A tag
// that fails to render is skipped: with a warning when its push policy
// would require the push, silently otherwise. Rendered names outside the
// valid tag charset are corrected.
func (b *Build) Tag(ctx context.Context) error {
	b.setStage(StageTagging)
	for _, rule := range b.def.PushRules {
		name, err := release.Render(rule.TagTemplate, b.rc.TagArgs())
		if err != nil {
			if ShouldPush(rule.Mode, b.rc) {
				slog.Warn("cannot render tag required for push", "build", b.def.Name, "template", rule.TagTemplate, "error", err)
			}
			continue
		}
		name = b.correctTag(name)

		if err := b.eng.Tag(ctx, b.Final, rule.Repo, name); err != nil {
			b.setStage(StageFailed)
			return fmt.Errorf("%w: tag %q: %v", ErrBuildFailed, b.def.Name, err)
		}
		slog.Info("tagged", "build", b.def.Name, "repo", rule.Repo, "tag", name)
	}
	return nil
}

// Push publishes every rule whose policy evaluates true. Here a template
// that cannot render is fatal: the policy demanded a push whose tag cannot
// be computed.
func (b *Build) Push(ctx context.Context) error {
	b.setStage(StagePushing)
	for _, rule := range b.def.PushRules {
		if !ShouldPush(rule.Mode, b.rc) {
			continue
		}

		name, err := release.Render(rule.TagTemplate, b.rc.TagArgs())
		if err != nil {
			b.setStage(StageFailed)
			return fmt.Errorf("%w: push %q: %v", ErrPushFailed, b.def.Name, err)
		}
		name = b.correctTag(name)

		slog.Info("pushing", "build", b.def.Name, "repo", rule.Repo, "tag", name)
		if err := b.eng.Push(ctx, rule.Repo, name); err != nil {
			b.setStage(StageFailed)
			return fmt.Errorf("%w: push %q: %v", ErrPushFailed, b.def.Name, err)
		}
	}
	return nil
}

// Done marks the record complete. The runner calls it after the last stage
// it executes, so a no-push run still finishes at StageDone.
func (b *Build) Done() {
	b.setStage(StageDone)
}

func (b *Build) correctTag(name string) string {
	if release.ValidTagName(name) {
		return name
	}
	corrected := release.CorrectTagName(name)
	slog.Warn("corrected invalid tag name", "build", b.def.Name, "tag", name, "corrected", corrected)
	return corrected
}

// DryRun prints the equivalent engine invocation without contacting the
// engine: the manifest path and the rendered label flags.
func (b *Build) DryRun(w io.Writer) {
	flags := make([]string, 0, len(b.def.LabelPairs))
	for _, assignment := range b.renderLabels() {
		flags = append(flags, "--label "+assignment)
	}

	line := fmt.Sprintf("build %s: docker build -f %s", b.def.Name, b.def.Dockerfile)
	if len(flags) > 0 {
		line += " " + strings.Join(flags, " ")
	}
	fmt.Fprintf(w, "%s %s\n", line, b.def.Context)
}
