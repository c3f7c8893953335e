package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmakehq/dmake/internal/cleanup"
	"github.com/dmakehq/dmake/internal/config"
	"github.com/dmakehq/dmake/internal/engine"
	"github.com/dmakehq/dmake/internal/graph"
	"github.com/dmakehq/dmake/internal/release"
)

type buildCall struct {
	opts         engine.BuildOptions
	manifest     string
	ignore       string
	ignoreExists bool
}

// fakeEngine records every call and snapshots the on-disk manifest and
// ignore file at build time, so tests can assert on the transient state
// the engine observed.
type fakeEngine struct {
	nextID  int
	builds  []buildCall
	inline  []string
	tags    []string
	pushes  []string
	created []string
	removed []string

	copyData string
	failWhen string // fail Build when the manifest contains this substring
	copyErr  error
	pushErr  error
}

func (f *fakeEngine) id() string {
	f.nextID++
	return fmt.Sprintf("sha256:%04d", f.nextID)
}

func (f *fakeEngine) Build(_ context.Context, opts engine.BuildOptions) (string, error) {
	manifest, _ := os.ReadFile(filepath.Join(opts.ContextDir, opts.Dockerfile))
	ignore, ierr := os.ReadFile(filepath.Join(opts.ContextDir, IgnoreFileName))
	f.builds = append(f.builds, buildCall{
		opts:         opts,
		manifest:     string(manifest),
		ignore:       string(ignore),
		ignoreExists: ierr == nil,
	})
	if f.failWhen != "" && strings.Contains(string(manifest), f.failWhen) {
		return "", errors.New("engine: step failed")
	}
	return f.id(), nil
}

func (f *fakeEngine) BuildInline(_ context.Context, dockerfile []byte) (string, error) {
	f.inline = append(f.inline, string(dockerfile))
	return f.id(), nil
}

func (f *fakeEngine) Tag(_ context.Context, imageID, repo, tag string) error {
	f.tags = append(f.tags, fmt.Sprintf("%s %s:%s", imageID, repo, tag))
	return nil
}

func (f *fakeEngine) Push(_ context.Context, repo, tag string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, repo+":"+tag)
	return nil
}

func (f *fakeEngine) CreateContainer(_ context.Context, imageID string) (string, error) {
	id := fmt.Sprintf("ctr-%d", len(f.created)+1)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeEngine) CopyFromContainer(_ context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	return io.NopCloser(strings.NewReader(f.copyData)), nil
}

func (f *fakeEngine) RemoveContainer(_ context.Context, containerID string) error {
	f.removed = append(f.removed, containerID)
	return nil
}

// writeContext creates a build context directory holding a Dockerfile.
func writeContext(t *testing.T, dockerfile string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "Dockerfile")
	if err := os.WriteFile(path, []byte(dockerfile), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, path
}

func testContext() *release.Context {
	return release.NewContext(release.Args{
		"date":       "20160721",
		"fcommitid":  "56903369fd200ea021dbb75f357f94b7fb5e829e",
		"scommitid":  "5690336",
		"git_branch": "master",
	})
}

func runAll(t *testing.T, r *Runner, defs map[string]*config.Definition, requested []string) error {
	t.Helper()
	order, err := graph.Resolve(defs)
	if err != nil {
		t.Fatal(err)
	}
	want, err := graph.Expand(defs, requested)
	if err != nil {
		t.Fatal(err)
	}
	return r.Run(context.Background(), defs, order, want)
}

func TestRunBuildsDependencyFirstAndRewritesManifest(t *testing.T) {
	baseDir, _ := writeContext(t, "FROM alpine:3.20\nRUN base\n")
	apiDir, apiManifest := writeContext(t, "FROM placeholder\nRUN api\n")
	apiOriginal, _ := os.ReadFile(apiManifest)

	defs := map[string]*config.Definition{
		"base": {
			Name: "base", Context: baseDir, Dockerfile: filepath.Join(baseDir, "Dockerfile"),
			LabelPairs: []config.Label{{Key: "com.example.commit", Template: "{fcommitid}"}},
		},
		"api": {
			Name: "api", Context: apiDir, Dockerfile: apiManifest,
			DependsOn: []string{"base"}, RewriteFrom: "base",
		},
	}

	eng := &fakeEngine{}
	r := &Runner{Engine: eng, Release: testContext(), Artifacts: cleanup.NewRegistry(), NoPush: true}

	// Requesting only "api" must still build "base" first.
	if err := runAll(t, r, defs, []string{"api"}); err != nil {
		t.Fatal(err)
	}

	if len(eng.builds) != 2 {
		t.Fatalf("%d engine builds, want 2", len(eng.builds))
	}
	if eng.builds[0].opts.ContextDir != baseDir {
		t.Errorf("base not built first: %v", eng.builds[0].opts)
	}

	base, _ := r.Record("base")
	if base.Final == base.Unlabeled {
		t.Error("base labels not applied")
	}
	// A no-push run still completes its records.
	if base.Stage() != StageDone {
		t.Errorf("base stage = %q, want done", base.Stage())
	}
	if api, _ := r.Record("api"); api.Stage() != StageDone {
		t.Errorf("api stage = %q, want done", api.Stage())
	}
	if len(eng.inline) != 1 || !strings.HasPrefix(eng.inline[0], "FROM "+base.Unlabeled+"\nLABEL ") {
		t.Errorf("label manifest = %q", eng.inline)
	}

	// The api build must have seen base's final image id in its manifest.
	wantFrom := "FROM " + base.Final + "\n"
	if !strings.HasPrefix(eng.builds[1].manifest, wantFrom) {
		t.Errorf("api manifest during build = %q, want prefix %q", eng.builds[1].manifest, wantFrom)
	}

	// And the on-disk manifest is restored byte for byte.
	restored, _ := os.ReadFile(apiManifest)
	if !bytes.Equal(restored, apiOriginal) {
		t.Errorf("api manifest not restored: %q", restored)
	}
}

func TestBuildFailureStillRestoresManifest(t *testing.T) {
	baseDir, _ := writeContext(t, "FROM alpine:3.20\n")
	apiDir, apiManifest := writeContext(t, "FROM placeholder\nRUN api\n")
	apiOriginal, _ := os.ReadFile(apiManifest)

	defs := map[string]*config.Definition{
		"base": {Name: "base", Context: baseDir, Dockerfile: filepath.Join(baseDir, "Dockerfile")},
		"api": {
			Name: "api", Context: apiDir, Dockerfile: apiManifest,
			DependsOn: []string{"base"}, RewriteFrom: "base",
		},
	}

	eng := &fakeEngine{failWhen: "RUN api"}
	r := &Runner{Engine: eng, Release: testContext(), Artifacts: cleanup.NewRegistry(), NoPush: true}

	err := runAll(t, r, defs, nil)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("err = %v, want ErrBuildFailed", err)
	}

	restored, _ := os.ReadFile(apiManifest)
	if !bytes.Equal(restored, apiOriginal) {
		t.Errorf("manifest not restored after failed build: %q", restored)
	}

	api, _ := r.Record("api")
	if api.Stage() != StageFailed {
		t.Errorf("stage = %q, want failed", api.Stage())
	}
}

func TestGeneratedIgnoreFileVisibleToEngineThenRemoved(t *testing.T) {
	dir, manifest := writeContext(t, "FROM alpine:3.20\n")

	defs := map[string]*config.Definition{
		"app": {Name: "app", Context: dir, Dockerfile: manifest, Dockerignore: []string{".git"}},
	}

	eng := &fakeEngine{}
	r := &Runner{Engine: eng, Release: testContext(), Artifacts: cleanup.NewRegistry(), NoPush: true}
	if err := runAll(t, r, defs, nil); err != nil {
		t.Fatal(err)
	}

	if !eng.builds[0].ignoreExists {
		t.Fatal("ignore file not present during build")
	}
	if eng.builds[0].ignore != ".git\n.dockerignore\n" {
		t.Errorf("ignore content during build = %q", eng.builds[0].ignore)
	}
	if _, err := os.Stat(filepath.Join(dir, IgnoreFileName)); !os.IsNotExist(err) {
		t.Error("generated ignore file not removed after build")
	}
}

func TestExtractWritesArchiveAndReleasesContainer(t *testing.T) {
	dir, manifest := writeContext(t, "FROM alpine:3.20\n")

	defs := map[string]*config.Definition{
		"app": {
			Name: "app", Context: dir, Dockerfile: manifest,
			Extract: []config.ExtractRule{{Src: "/usr/bin/app", Dst: "dist/app.tar"}},
		},
	}

	eng := &fakeEngine{copyData: "tar-bytes"}
	artifacts := cleanup.NewRegistry()
	r := &Runner{Engine: eng, Release: testContext(), Artifacts: artifacts, NoPush: true}
	if err := runAll(t, r, defs, nil); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "dist", "app.tar")
	content, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "tar-bytes" {
		t.Errorf("extracted content = %q", content)
	}

	paths := artifacts.Paths()
	if len(paths) != 1 || paths[0] != dst {
		t.Errorf("artifact registry = %v, want [%s]", paths, dst)
	}

	if len(eng.created) != 1 || len(eng.removed) != 1 || eng.created[0] != eng.removed[0] {
		t.Errorf("container not released: created %v removed %v", eng.created, eng.removed)
	}
}

func TestExtractFailureStillReleasesContainer(t *testing.T) {
	dir, manifest := writeContext(t, "FROM alpine:3.20\n")

	defs := map[string]*config.Definition{
		"app": {
			Name: "app", Context: dir, Dockerfile: manifest,
			Extract: []config.ExtractRule{{Src: "/missing", Dst: "out.tar"}},
		},
	}

	eng := &fakeEngine{copyErr: errors.New("no such path")}
	r := &Runner{Engine: eng, Release: testContext(), Artifacts: cleanup.NewRegistry(), NoPush: true}

	err := runAll(t, r, defs, nil)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("err = %v, want ErrBuildFailed", err)
	}
	if len(eng.created) != 1 || len(eng.removed) != 1 {
		t.Errorf("container not released on failure: created %v removed %v", eng.created, eng.removed)
	}
}

func TestTagAndPushFollowPolicy(t *testing.T) {
	dir, manifest := writeContext(t, "FROM alpine:3.20\n")

	defs := map[string]*config.Definition{
		"app": {
			Name: "app", Context: dir, Dockerfile: manifest,
			PushRules: []config.PushRule{
				{Mode: "on_branch:master", Repo: "registry.example.com/app", TagTemplate: "{date}-{scommitid}"},
				{Mode: "never", Repo: "registry.example.com/app", TagTemplate: "{date}"},
			},
		},
	}

	eng := &fakeEngine{}
	r := &Runner{Engine: eng, Release: testContext(), Artifacts: cleanup.NewRegistry()}
	if err := runAll(t, r, defs, nil); err != nil {
		t.Fatal(err)
	}

	// Both rules render, so both tags are applied; only the matching
	// policy pushes.
	if len(eng.tags) != 2 {
		t.Errorf("tags = %v, want 2 applied", eng.tags)
	}
	if len(eng.pushes) != 1 || eng.pushes[0] != "registry.example.com/app:20160721-5690336" {
		t.Errorf("pushes = %v", eng.pushes)
	}
}

func TestUnrenderableTagSkippedUnlessPushRequired(t *testing.T) {
	dir, manifest := writeContext(t, "FROM alpine:3.20\n")
	def := &config.Definition{
		Name: "app", Context: dir, Dockerfile: manifest,
		PushRules: []config.PushRule{
			{Mode: "never", Repo: "registry.example.com/app", TagTemplate: "{ghost}"},
		},
	}

	eng := &fakeEngine{}
	b := New(def, eng, testContext(), cleanup.NewRegistry(), func(string) (*Build, bool) { return nil, false })

	if err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Tag(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(eng.tags) != 0 {
		t.Errorf("unrenderable tag was applied: %v", eng.tags)
	}

	// The same template under a policy that requires the push is fatal
	// at publish time.
	def.PushRules[0].Mode = "always"
	err := b.Push(context.Background())
	if !errors.Is(err, ErrPushFailed) {
		t.Fatalf("err = %v, want ErrPushFailed", err)
	}
}

func TestPushStreamErrorIsFatal(t *testing.T) {
	dir, manifest := writeContext(t, "FROM alpine:3.20\n")
	def := &config.Definition{
		Name: "app", Context: dir, Dockerfile: manifest,
		PushRules: []config.PushRule{
			{Mode: "always", Repo: "registry.example.com/app", TagTemplate: "{date}"},
		},
	}

	eng := &fakeEngine{pushErr: errors.New("denied: requested access to the resource is denied")}
	b := New(def, eng, testContext(), cleanup.NewRegistry(), func(string) (*Build, bool) { return nil, false })

	if err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(context.Background()); !errors.Is(err, ErrPushFailed) {
		t.Fatalf("err = %v, want ErrPushFailed", err)
	}
}

func TestRenderedTagNamesAreCorrected(t *testing.T) {
	dir, manifest := writeContext(t, "FROM alpine:3.20\n")
	def := &config.Definition{
		Name: "app", Context: dir, Dockerfile: manifest,
		PushRules: []config.PushRule{
			{Mode: "never", Repo: "registry.example.com/app", TagTemplate: "{git_branch}"},
		},
	}

	rc := release.NewContext(release.Args{"git_branch": "feature/123"})
	eng := &fakeEngine{}
	b := New(def, eng, rc, cleanup.NewRegistry(), func(string) (*Build, bool) { return nil, false })

	if err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Tag(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(eng.tags) != 1 || !strings.HasSuffix(eng.tags[0], ":feature_123") {
		t.Errorf("tags = %v, want corrected feature_123", eng.tags)
	}
}

func TestDryRunContactsNoEngine(t *testing.T) {
	dir, manifest := writeContext(t, "FROM alpine:3.20\n")

	defs := map[string]*config.Definition{
		"app": {
			Name: "app", Context: dir, Dockerfile: manifest,
			LabelPairs: []config.Label{{Key: "commit", Template: "{fcommitid}"}},
		},
	}

	var out bytes.Buffer
	eng := &fakeEngine{}
	r := &Runner{Engine: eng, Release: testContext(), Artifacts: cleanup.NewRegistry(), DryRun: true, Out: &out}
	if err := runAll(t, r, defs, nil); err != nil {
		t.Fatal(err)
	}

	if len(eng.builds)+len(eng.inline)+len(eng.tags)+len(eng.pushes) != 0 {
		t.Error("dry run contacted the engine")
	}
	if !strings.Contains(out.String(), "docker build -f "+manifest) {
		t.Errorf("dry run output = %q", out.String())
	}
	if !strings.Contains(out.String(), "--label commit=") {
		t.Errorf("dry run output misses label flags: %q", out.String())
	}
}
