// Package logging builds the runtime's structured logger. Every package
// takes a *slog.Logger via constructor option rather than reading a
// package-global, so this package's only job is building the one logger
// main wires through the dependency graph.
package logging

import (
	"io"
	"log/slog"
)

// Options configures the root logger.
type Options struct {
	Level  slog.Level
	Writer io.Writer // defaults to os.Stderr when nil, set by caller
	JSON   bool
}

// New builds a *slog.Logger per Options; production runs default to JSON
// output.
func New(opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Writer, handlerOpts)
	}
	return slog.New(handler)
}
