// Package watcher observes build context directories and emits debounced
// change notifications, driving the rebuild loop behind --watch.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is a coalesced file change inside a watched build context.
type Change struct {
	Path      string
	Timestamp time.Time
}

// Config controls what the watcher observes.
type Config struct {
	// Dirs are the build context roots to watch recursively.
	Dirs []string

	// IgnorePatterns match path components to skip (e.g. ".git", "dist").
	IgnorePatterns []string

	// Debounce coalesces rapid events on the same path.
	Debounce time.Duration
}

// DefaultConfig watches the given context directories with the usual
// noise filtered out.
func DefaultConfig(dirs []string) *Config {
	return &Config{
		Dirs: dirs,
		IgnorePatterns: []string{
			".git",
			".dockerignore",
			"node_modules",
			"vendor",
			"dist",
			"*.swp",
			"*~",
		},
		Debounce: 300 * time.Millisecond,
	}
}

// Watcher emits debounced Changes for the configured directories.
type Watcher struct {
	config  *Config
	watcher *fsnotify.Watcher
	changes chan Change
	errors  chan error
	done    chan struct{}
	mu      sync.Mutex
	running bool

	pending   map[string]*time.Timer
	pendingMu sync.Mutex
}

// New creates a watcher; call Start to begin observing.
func New(config *Config) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		config:  config,
		watcher: fsWatcher,
		changes: make(chan Change, 64),
		errors:  make(chan error, 8),
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Start registers every configured directory tree and begins emitting
// changes until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, dir := range w.config.Dirs {
		if err := w.addRecursive(dir); err != nil {
			return err
		}
	}

	go w.loop(ctx)
	return nil
}

// Stop ends the watch and releases the underlying notifier.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.done)
	return w.watcher.Close()
}

// Changes returns the debounced change channel.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Drain discards changes until none arrive for quiet. Run it after a
// rebuild: the build itself writes into its watched context (manifest
// rewrite and restore, generated ignore file, the temp files behind both),
// and those events must not trigger another rebuild.
func (w *Watcher) Drain(quiet time.Duration) {
	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case <-w.changes:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)
		case <-timer.C:
			return
		}
	}
}

// Errors returns the watch error channel.
func (w *Watcher) Errors() <-chan error { return w.errors }

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		for _, pattern := range w.config.IgnorePatterns {
			if matched, _ := filepath.Match(pattern, info.Name()); matched {
				return filepath.SkipDir
			}
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if w.ignored(event.Name) {
		return
	}

	// New directories must be registered so deeper changes are seen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addRecursive(event.Name)
		}
	}

	w.debounce(event.Name)
}

func (w *Watcher) debounce(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}

	w.pending[path] = time.AfterFunc(w.config.Debounce, func() {
		w.pendingMu.Lock()
		delete(w.pending, path)
		w.pendingMu.Unlock()

		select {
		case w.changes <- Change{Path: path, Timestamp: time.Now()}:
		default:
		}
	})
}

func (w *Watcher) ignored(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		for _, pattern := range w.config.IgnorePatterns {
			if matched, _ := filepath.Match(pattern, part); matched {
				return true
			}
		}
	}
	return false
}
