package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/moby/term"
)

// Docker talks to the Docker daemon through its HTTP API. Daemon location
// and API version come from the standard DOCKER_* environment variables.
type Docker struct {
	cli    client.APIClient
	out    io.Writer
	fd     uintptr
	isTerm bool
}

// NewDocker connects to the daemon and directs stream output (build and
// push progress) to out.
func NewDocker(out io.Writer) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}
	fd, isTerm := term.GetFdInfo(out)
	return &Docker{cli: cli, out: out, fd: fd, isTerm: isTerm}, nil
}

func (d *Docker) Build(ctx context.Context, opts BuildOptions) (string, error) {
	excludes, err := readDockerignore(opts.ContextDir)
	if err != nil {
		return "", err
	}

	buildCtx, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return "", fmt.Errorf("failed to tar build context %s: %w", opts.ContextDir, err)
	}
	defer buildCtx.Close()

	return d.build(ctx, buildCtx, types.ImageBuildOptions{
		Dockerfile: opts.Dockerfile,
		Remove:     true,
	})
}

func (d *Docker) BuildInline(ctx context.Context, dockerfile []byte) (string, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "Dockerfile", Mode: 0o644, Size: int64(len(dockerfile))}); err != nil {
		return "", fmt.Errorf("failed to tar inline manifest: %w", err)
	}
	if _, err := tw.Write(dockerfile); err != nil {
		return "", fmt.Errorf("failed to tar inline manifest: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("failed to tar inline manifest: %w", err)
	}

	return d.build(ctx, &buf, types.ImageBuildOptions{
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
}

// build runs one ImageBuild call and consumes its JSON message stream. The
// image id arrives in an aux message; a stream error fails the build.
func (d *Docker) build(ctx context.Context, buildCtx io.Reader, opts types.ImageBuildOptions) (string, error) {
	resp, err := d.cli.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return "", fmt.Errorf("build request failed: %w", err)
	}
	defer resp.Body.Close()

	var imageID string
	aux := func(msg jsonmessage.JSONMessage) {
		var result types.BuildResult
		if err := json.Unmarshal(*msg.Aux, &result); err == nil {
			imageID = result.ID
		}
	}

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, d.out, d.fd, d.isTerm, aux); err != nil {
		return "", fmt.Errorf("build failed: %w", err)
	}
	if imageID == "" {
		return "", fmt.Errorf("build finished without reporting an image id")
	}
	return imageID, nil
}

func (d *Docker) Tag(ctx context.Context, imageID, repo, tag string) error {
	if err := d.cli.ImageTag(ctx, imageID, repo+":"+tag); err != nil {
		return fmt.Errorf("failed to tag %s as %s:%s: %w", imageID, repo, tag, err)
	}
	return nil
}

func (d *Docker) Push(ctx context.Context, repo, tag string) error {
	resp, err := d.cli.ImagePush(ctx, repo+":"+tag, image.PushOptions{
		RegistryAuth: registryAuth(),
	})
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Close()

	// Any stream line carrying an error detail surfaces here as an error.
	if err := jsonmessage.DisplayJSONMessagesStream(resp, d.out, d.fd, d.isTerm, nil); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	return nil
}

func (d *Docker) CreateContainer(ctx context.Context, imageID string) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{Image: imageID}, nil, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container from %s: %w", imageID, err)
	}
	return resp.ID, nil
}

func (d *Docker) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	reader, _, err := d.cli.CopyFromContainer(ctx, containerID, srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s from container: %w", srcPath, err)
	}
	return reader, nil
}

func (d *Docker) RemoveContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}

// readDockerignore loads exclusion patterns from the context's .dockerignore
// file, if present.
func readDockerignore(contextDir string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextDir, ".dockerignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse .dockerignore: %w", err)
	}
	return patterns, nil
}

// registryAuth returns the base64 auth blob for push requests. An explicit
// blob can be supplied via DMAKE_REGISTRY_AUTH; otherwise the daemon's own
// credential store applies.
func registryAuth() string {
	if auth := os.Getenv("DMAKE_REGISTRY_AUTH"); auth != "" {
		return auth
	}
	buf, _ := json.Marshal(registry.AuthConfig{})
	return base64.URLEncoding.EncodeToString(buf)
}
