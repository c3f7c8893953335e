package graph

import (
	"fmt"
	"strings"
)

// SelfDependencyError reports a build that depends on itself.
type SelfDependencyError struct {
	Name string
}

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("build %q depends on itself", e.Name)
}

// CycleError reports a dependency cycle. Names holds every build that was
// in progress when the cycle was detected, sorted.
type CycleError struct {
	Names []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving builds: %s", strings.Join(e.Names, ", "))
}

// UndefinedBuildError reports a requested or transitively required build
// name that is not defined.
type UndefinedBuildError struct {
	Name string
}

func (e *UndefinedBuildError) Error() string {
	return fmt.Sprintf("undefined build %q", e.Name)
}
