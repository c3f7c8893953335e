// Package cleanup tracks filesystem side effects created during a run and
// removes them when the run ends.
package cleanup

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"syscall"
)

// Registry collects paths created as side effects of a build run (extracted
// archives, generated files) so they can be removed at process exit.
//
// The registry is append-only while the run is in progress. Drain removes
// every registered path that still exists; paths already gone are skipped.
type Registry struct {
	mu    sync.Mutex
	paths []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register records a path for removal at drain time.
func (r *Registry) Register(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

// Paths returns a copy of the registered paths in registration order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}

// Drain removes every registered path that still exists and empties the
// registry. Files and symlinks are unlinked; directories are removed only
// when empty. Removal failures are logged, not returned: drain runs on
// every exit path and must not mask the run's own error.
func (r *Registry) Drain() {
	r.mu.Lock()
	paths := r.paths
	r.paths = nil
	r.mu.Unlock()

	for _, path := range paths {
		if _, err := os.Lstat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			slog.Warn("cleanup: cannot stat artifact", "path", path, "error", err)
			continue
		}
		switch err := os.Remove(path); {
		case err == nil:
			slog.Debug("cleanup: removed artifact", "path", path)
		case errors.Is(err, syscall.ENOTEMPTY):
			// Non-empty directories are left in place.
			slog.Debug("cleanup: directory not empty, keeping", "path", path)
		default:
			slog.Warn("cleanup: cannot remove artifact", "path", path, "error", err)
		}
	}
}
