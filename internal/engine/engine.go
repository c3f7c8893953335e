// Package engine abstracts the image daemon behind dmake: building, tagging,
// and pushing images, plus the container operations needed to extract files
// from built images.
package engine

import (
	"context"
	"io"
)

// BuildOptions describe a single image build.
type BuildOptions struct {
	// ContextDir is the build context directory to upload.
	ContextDir string
	// Dockerfile is the manifest path relative to ContextDir.
	Dockerfile string
}

// Engine is the external image daemon. All operations are synchronous;
// streamed responses (build output, push output) are consumed to completion
// before the call returns.
type Engine interface {
	// Build uploads the context and builds it, returning the image id.
	Build(ctx context.Context, opts BuildOptions) (string, error)

	// BuildInline builds an in-memory manifest with no context files,
	// returning the image id. Used for the ephemeral FROM+LABEL build.
	BuildInline(ctx context.Context, dockerfile []byte) (string, error)

	// Tag applies repo:tag to an image.
	Tag(ctx context.Context, imageID, repo, tag string) error

	// Push publishes repo:tag, consuming the progress stream. A stream
	// message carrying an error detail fails the push.
	Push(ctx context.Context, repo, tag string) error

	// CreateContainer creates (without starting) a container from an image.
	CreateContainer(ctx context.Context, imageID string) (string, error)

	// CopyFromContainer returns the archive stream for a path inside a
	// container. The caller owns the returned reader.
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error)

	// RemoveContainer force-removes a container.
	RemoveContainer(ctx context.Context, containerID string) error
}
