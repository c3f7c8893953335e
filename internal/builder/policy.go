package builder

import (
	"strings"

	"github.com/dmakehq/dmake/internal/release"
)

// Push rule modes.
const (
	PushAlways         = "always"
	PushNever          = "never"
	PushOnTag          = "on_tag"
	PushOnBranchPrefix = "on_branch:"
)

// ShouldPush evaluates a push rule mode against the release context.
//
//   - "always": push
//   - "never": do not push
//   - "on_tag": push iff the commit carries a tag
//   - "on_branch:<name>": push iff the current branch is <name>
//
// Unrecognized modes evaluate to false: a typoed mode suppresses the push
// silently rather than failing the run. A bare "on_branch:" is one of them;
// with no name to compare it never pushes, even from a detached HEAD where
// the branch is also empty.
func ShouldPush(mode string, rc *release.Context) bool {
	switch {
	case mode == PushAlways:
		return true
	case mode == PushOnTag:
		return rc.Tag() != ""
	case strings.HasPrefix(mode, PushOnBranchPrefix):
		branch := strings.TrimPrefix(mode, PushOnBranchPrefix)
		return branch != "" && rc.Branch() == branch
	default:
		return false
	}
}
