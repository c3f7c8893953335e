// Package graph orders build definitions by dependency and expands requested
// build subsets to include their transitive dependencies.
package graph

import (
	"sort"

	"github.com/dmakehq/dmake/internal/config"
)

// DFS colors. A gray node reached again while still in progress marks a cycle.
type color int

const (
	white color = iota // unvisited
	gray               // in progress
	black              // done
)

// Resolve returns a total order over the definitions in which every build
// appears strictly after all of its dependencies.
//
// Traversal runs in reverse-dependency direction: visiting a node descends
// into the builds that depend on it, so a node is emitted only after the
// entire subtree of its dependents, and reversing the post-order yields
// dependencies first. The traversal is iterative with an explicit stack, so
// graph depth is not bounded by goroutine stack size. Node and neighbor
// iteration is sorted to keep runs deterministic, but only the relative
// order of dependents and dependencies is contractual.
func Resolve(defs map[string]*config.Definition) ([]string, error) {
	names := sortedNames(defs)

	// dependents[n] lists the builds whose depends_on contains n.
	dependents := make(map[string][]string, len(defs))
	for _, name := range names {
		for _, dep := range defs[name].DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}
	for dep := range dependents {
		sort.Strings(dependents[dep])
	}

	colors := make(map[string]color, len(defs))
	order := make([]string, 0, len(defs))

	type frame struct {
		name string
		next int // index into dependents[name]
	}

	for _, start := range names {
		if colors[start] != white {
			continue
		}

		stack := []frame{{name: start}}
		colors[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := dependents[top.name]

			if top.next < len(deps) {
				neighbor := deps[top.next]
				top.next++

				switch colors[neighbor] {
				case white:
					colors[neighbor] = gray
					stack = append(stack, frame{name: neighbor})
				case gray:
					if contains(defs[neighbor].DependsOn, neighbor) {
						return nil, &SelfDependencyError{Name: neighbor}
					}
					return nil, &CycleError{Names: grayNames(colors)}
				}
				continue
			}

			colors[top.name] = black
			order = append(order, top.name)
			stack = stack[:len(stack)-1]
		}
	}

	// Post-order emitted dependents first; reverse for dependencies first.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	return order, nil
}

// Expand returns the minimal set of build names that must run to satisfy the
// request: the requested names plus every transitive dependency. An empty
// request selects every defined build. A requested or transitively required
// name with no definition fails with an [UndefinedBuildError]; expansion
// never silently skips.
func Expand(defs map[string]*config.Definition, requested []string) (map[string]bool, error) {
	want := make(map[string]bool, len(defs))

	if len(requested) == 0 {
		for name := range defs {
			want[name] = true
		}
		return want, nil
	}

	pending := append([]string(nil), requested...)
	for len(pending) > 0 {
		name := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if want[name] {
			continue
		}

		def, ok := defs[name]
		if !ok {
			return nil, &UndefinedBuildError{Name: name}
		}
		want[name] = true

		for _, dep := range def.DependsOn {
			if !want[dep] {
				pending = append(pending, dep)
			}
		}
	}

	return want, nil
}

func sortedNames(defs map[string]*config.Definition) []string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func grayNames(colors map[string]color) []string {
	var names []string
	for name, c := range colors {
		if c == gray {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
