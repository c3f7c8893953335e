// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
)

// Setup installs a text slog handler on w as the default logger. Verbose
// enables debug-level output.
func Setup(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
