package builder

import "errors"

var (
	// ErrBuildFailed marks an image engine failure while building,
	// labeling, or extracting. Dependent builds are not attempted.
	ErrBuildFailed = errors.New("build failed")

	// ErrPushFailed marks a publish failure: the push stream reported an
	// error, or a tag required by policy could not be rendered.
	ErrPushFailed = errors.New("push failed")
)
