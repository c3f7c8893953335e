package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmakehq/dmake/pkg/xos"
)

// IgnoreFileName is the context-local ignore file consumed by the engine.
const IgnoreFileName = ".dockerignore"

// rewriteManifest replaces the manifest's first directive with
// "FROM <imageID>" on disk and returns a restore function that writes the
// original bytes back. The caller must invoke restore on every exit path;
// both the rewrite and the restore are atomic writes, so the manifest is
// never observable half-written.
func rewriteManifest(path, imageID string) (restore func() error, err error) {
	original, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat manifest %s: %w", path, err)
	}
	perm := info.Mode().Perm()

	rewritten, err := replaceFirstDirective(string(original), "FROM "+imageID)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	if err := xos.WriteFile(path, []byte(rewritten), perm); err != nil {
		return nil, fmt.Errorf("failed to rewrite manifest %s: %w", path, err)
	}

	return func() error {
		if err := xos.WriteFile(path, original, perm); err != nil {
			return fmt.Errorf("failed to restore manifest %s: %w", path, err)
		}
		return nil
	}, nil
}

// replaceFirstDirective swaps the first non-blank, non-comment line of a
// Dockerfile for the given line.
func replaceFirstDirective(content, line string) (string, error) {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines[i] = line
		return strings.Join(lines, "\n"), nil
	}
	return "", fmt.Errorf("no directive to rewrite")
}

// ensureIgnoreFile generates the context's ignore file from the
// definition's patterns when none exists. The generated file lists the
// patterns plus the ignore file's own name, so it never ends up in the
// uploaded context. Returns a remove function when the file was generated;
// a pre-existing ignore file is left untouched and remove is a no-op.
func ensureIgnoreFile(contextDir string, patterns []string) (remove func(), err error) {
	path := filepath.Join(contextDir, IgnoreFileName)

	if _, err := os.Stat(path); err == nil {
		return func() {}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	content := strings.Join(append(append([]string{}, patterns...), IgnoreFileName), "\n") + "\n"
	if err := xos.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", path, err)
	}

	return func() { os.Remove(path) }, nil
}
