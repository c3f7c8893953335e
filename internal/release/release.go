// Package release captures version-control identifiers once per run and
// renders tag and label templates against them.
package release

import (
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Args maps template field names to their rendered values.
type Args map[string]string

// Generator contributes named template arguments. A generator that cannot
// produce its values (command failed, blank output) returns an empty map and
// its fields are simply absent from the context.
type Generator interface {
	Gen() Args
}

// CmdGenerator produces a single argument from the trimmed output of a shell
// command. Failed commands and blank output contribute nothing.
type CmdGenerator struct {
	Key string
	Cmd string
}

func (g CmdGenerator) Gen() Args {
	out, err := exec.Command("sh", "-c", g.Cmd).Output()
	if err != nil {
		slog.Debug("release: generator command failed", "key", g.Key, "cmd", g.Cmd, "error", err)
		return Args{}
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return Args{}
	}
	return Args{g.Key: value}
}

// DateGenerator produces the "date" argument as YYYYMMDD.
type DateGenerator struct {
	Now func() time.Time // defaults to time.Now
}

func (g DateGenerator) Gen() Args {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return Args{"date": now().Format("20060102")}
}

// DateTimeGenerator produces one argument from the current time formatted
// with a caller-supplied layout.
type DateTimeGenerator struct {
	Key    string
	Layout string
	Now    func() time.Time // defaults to time.Now
}

func (g DateTimeGenerator) Gen() Args {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return Args{g.Key: now().Format(g.Layout)}
}

// GitCommitGenerator produces "fcommitid" (full commit id) and "scommitid"
// (first seven characters) from HEAD.
type GitCommitGenerator struct{}

func (GitCommitGenerator) Gen() Args {
	commit := CmdGenerator{Key: "fcommitid", Cmd: "git rev-parse HEAD"}.Gen()
	if full, ok := commit["fcommitid"]; ok && len(full) >= 7 {
		commit["scommitid"] = full[:7]
	}
	return commit
}

// Shell commands behind the remaining git arguments. Branch and tag may be
// blank (detached HEAD, untagged commit); those fields are then absent.
var gitGenerators = []Generator{
	GitCommitGenerator{},
	CmdGenerator{Key: "commitmsg", Cmd: "git log --oneline | head -1"},
	CmdGenerator{Key: "git_branch", Cmd: "git rev-parse --abbrev-ref HEAD"},
	CmdGenerator{Key: "git_tag", Cmd: "git tag --contains HEAD | head -1"},
	CmdGenerator{Key: "git_describe", Cmd: "git describe --tags"},
}

// Context is the immutable per-run snapshot of release identifiers.
//
// Tag templates may reference every captured field including "date". Label
// templates exclude "date" so that label values stay stable across days and
// do not invalidate image layer caches.
type Context struct {
	tagArgs   Args
	labelArgs Args
}

// Capture runs all generators once and freezes their output. Extra
// generators from the configuration are appended after the built-in set and
// may override built-in fields.
func Capture(extra ...Generator) *Context {
	generators := append(append([]Generator{}, gitGenerators...), DateGenerator{})
	generators = append(generators, extra...)

	tagArgs := collect(generators)

	labelArgs := make(Args, len(tagArgs))
	for k, v := range tagArgs {
		if k == "date" {
			continue
		}
		labelArgs[k] = v
	}

	return &Context{tagArgs: tagArgs, labelArgs: labelArgs}
}

// NewContext builds a context directly from known arguments, bypassing the
// generators. Intended for tests and dry runs.
func NewContext(args Args) *Context {
	tagArgs := make(Args, len(args))
	labelArgs := make(Args, len(args))
	for k, v := range args {
		tagArgs[k] = v
		if k != "date" {
			labelArgs[k] = v
		}
	}
	return &Context{tagArgs: tagArgs, labelArgs: labelArgs}
}

func collect(generators []Generator) Args {
	args := make(Args)
	for _, g := range generators {
		for k, v := range g.Gen() {
			args[k] = v
		}
	}
	return args
}

// TagArgs returns the arguments available to tag templates.
func (c *Context) TagArgs() Args { return c.tagArgs }

// LabelArgs returns the arguments available to label templates ("date" excluded).
func (c *Context) LabelArgs() Args { return c.labelArgs }

// Branch returns the current branch name, or "" when unknown.
func (c *Context) Branch() string { return c.tagArgs["git_branch"] }

// Tag returns the tag pointing at HEAD, or "" when the commit is untagged.
func (c *Context) Tag() string { return c.tagArgs["git_tag"] }
