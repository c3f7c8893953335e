// Package config loads and validates the .dmake.yml build definition file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/distribution/reference"
	"gopkg.in/yaml.v3"

	"github.com/dmakehq/dmake/internal/release"
)

// DefaultFileName is the definition file looked up when -f is not given.
const DefaultFileName = ".dmake.yml"

// Definition describes one image build. Immutable once loaded.
type Definition struct {
	Name         string        `yaml:"-"`
	Context      string        `yaml:"context"`
	Dockerfile   string        `yaml:"dockerfile"`
	DependsOn    []string      `yaml:"depends_on"`
	RewriteFrom  string        `yaml:"rewrite_from"`
	Dockerignore []string      `yaml:"dockerignore"`
	Labels       []string      `yaml:"labels"`
	Pushes       []string      `yaml:"pushes"`
	Extract      []ExtractRule `yaml:"extract"`

	// Parsed forms of Pushes and Labels, filled in by Load.
	PushRules  []PushRule `yaml:"-"`
	LabelPairs []Label    `yaml:"-"`
}

// ExtractRule copies a path out of the built image to a host path resolved
// relative to the build's context.
type ExtractRule struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

// PushRule is the parsed form of a "mode=repository:tag-template" entry.
// Mode is one of "always", "never", "on_tag", "on_branch:<name>"; anything
// else evaluates to "do not push".
type PushRule struct {
	Mode        string
	Repo        string
	TagTemplate string
}

// Label is the parsed form of a "key=value-template" entry.
type Label struct {
	Key      string
	Template string
}

// TagName configures an extra template-argument generator.
type TagName struct {
	Type  string `yaml:"type"`
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// File is the parsed .dmake.yml.
type File struct {
	Builds   map[string]*Definition `yaml:"builds"`
	TagNames []TagName              `yaml:"tag-names"`
}

// Load reads, schema-validates, and semantically validates a definition
// file. Any validation failure is returned before the caller can compute a
// build order; an invalid file is never partially usable.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for name, def := range file.Builds {
		def.Name = name
	}

	if err := file.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &file, nil
}

// validate checks the cross-definition constraints the schema cannot
// express and parses push and label entries.
func (f *File) validate() error {
	if len(f.Builds) == 0 {
		return fmt.Errorf("no builds defined")
	}

	for name, def := range f.Builds {
		for _, dep := range def.DependsOn {
			if _, ok := f.Builds[dep]; !ok {
				return fmt.Errorf("build %q depends on undefined build %q", name, dep)
			}
		}

		if def.RewriteFrom != "" {
			if _, ok := f.Builds[def.RewriteFrom]; !ok {
				return fmt.Errorf("build %q rewrites from undefined build %q", name, def.RewriteFrom)
			}
			if !contains(def.DependsOn, def.RewriteFrom) {
				return fmt.Errorf("build %q rewrites from %q but does not list it in depends_on", name, def.RewriteFrom)
			}
		}

		rules, err := parsePushes(def.Pushes)
		if err != nil {
			return fmt.Errorf("build %q: %w", name, err)
		}
		def.PushRules = rules

		labels, err := parseLabels(def.Labels)
		if err != nil {
			return fmt.Errorf("build %q: %w", name, err)
		}
		def.LabelPairs = labels
	}

	return nil
}

func parsePushes(pushes []string) ([]PushRule, error) {
	rules := make([]PushRule, 0, len(pushes))
	for _, entry := range pushes {
		mode, dest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("push rule %q: want mode=repository:tag-template", entry)
		}

		sep := strings.LastIndex(dest, ":")
		if sep <= 0 || sep == len(dest)-1 {
			return nil, fmt.Errorf("push rule %q: destination must be repository:tag-template", entry)
		}
		repo, tmpl := dest[:sep], dest[sep+1:]

		if _, err := reference.ParseNormalizedNamed(repo); err != nil {
			return nil, fmt.Errorf("push rule %q: invalid repository %q: %w", entry, repo, err)
		}

		rules = append(rules, PushRule{Mode: mode, Repo: repo, TagTemplate: tmpl})
	}
	return rules, nil
}

func parseLabels(labels []string) ([]Label, error) {
	pairs := make([]Label, 0, len(labels))
	for _, entry := range labels {
		key, tmpl, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("label %q: want key=value-template", entry)
		}
		pairs = append(pairs, Label{Key: key, Template: tmpl})
	}
	return pairs, nil
}

// Generators builds the extra template-argument generators configured under
// tag-names. Entries with an unknown type are skipped with a warning.
func (f *File) Generators() []release.Generator {
	generators := make([]release.Generator, 0, len(f.TagNames))
	for _, tn := range f.TagNames {
		switch tn.Type {
		case "cmd":
			generators = append(generators, release.CmdGenerator{Key: tn.Name, Cmd: tn.Value})
		case "datetime":
			generators = append(generators, release.DateTimeGenerator{Key: tn.Name, Layout: tn.Value})
		default:
			slog.Warn("config: unknown tag-name generator type, skipping", "type", tn.Type, "name", tn.Name)
		}
	}
	return generators
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
