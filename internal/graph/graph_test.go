package graph

import (
	"errors"
	"testing"

	"github.com/dmakehq/dmake/internal/config"
)

func defs(entries map[string][]string) map[string]*config.Definition {
	out := make(map[string]*config.Definition, len(entries))
	for name, deps := range entries {
		out[name] = &config.Definition{Name: name, DependsOn: deps}
	}
	return out
}

func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestResolveDependenciesComeFirst(t *testing.T) {
	order, err := Resolve(defs(map[string][]string{
		"base":   nil,
		"api":    {"base"},
		"web":    {"api", "base"},
		"worker": {"base"},
		"docs":   nil,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 5 {
		t.Fatalf("order %v misses builds", order)
	}

	// Only relative ordering between dependents and dependencies is
	// guaranteed; independent builds may appear in any valid order.
	pairs := [][2]string{
		{"base", "api"}, {"api", "web"}, {"base", "web"}, {"base", "worker"},
	}
	for _, p := range pairs {
		if indexOf(order, p[0]) >= indexOf(order, p[1]) {
			t.Errorf("order %v: %q must come before %q", order, p[0], p[1])
		}
	}
}

func TestResolveSelfDependency(t *testing.T) {
	_, err := Resolve(defs(map[string][]string{
		"api": {"api"},
	}))

	var selfDep *SelfDependencyError
	if !errors.As(err, &selfDep) {
		t.Fatalf("err = %v, want SelfDependencyError", err)
	}
	if selfDep.Name != "api" {
		t.Errorf("name = %q", selfDep.Name)
	}
}

func TestResolveCycleNamesParticipants(t *testing.T) {
	_, err := Resolve(defs(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}))

	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("err = %v, want CycleError", err)
	}
	if indexOf(cycle.Names, "a") < 0 || indexOf(cycle.Names, "b") < 0 {
		t.Errorf("cycle names %v must include both participants", cycle.Names)
	}

	var selfDep *SelfDependencyError
	if errors.As(err, &selfDep) {
		t.Error("general cycle must not be reported as self-dependency")
	}
}

func TestExpandIncludesTransitiveDependencies(t *testing.T) {
	d := defs(map[string][]string{
		"base": nil,
		"api":  {"base"},
		"web":  {"api"},
	})

	want, err := Expand(d, []string{"api"})
	if err != nil {
		t.Fatal(err)
	}
	if len(want) != 2 || !want["api"] || !want["base"] {
		t.Errorf("want-set = %v, expected exactly {api, base}", want)
	}
}

func TestExpandEmptyRequestSelectsAll(t *testing.T) {
	d := defs(map[string][]string{"a": nil, "b": {"a"}})

	want, err := Expand(d, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(want) != 2 {
		t.Errorf("want-set = %v, expected all builds", want)
	}
}

func TestExpandUndefinedBuild(t *testing.T) {
	_, err := Expand(defs(map[string][]string{"api": nil}), []string{"ghost"})

	var undefined *UndefinedBuildError
	if !errors.As(err, &undefined) {
		t.Fatalf("err = %v, want UndefinedBuildError", err)
	}
	if undefined.Name != "ghost" {
		t.Errorf("name = %q, want ghost", undefined.Name)
	}
}
