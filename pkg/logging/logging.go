// Package logging provides the structured logger configuration shared by the
// engine, the persistent driver, and the timeout sweeper.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config holds logger construction options.
type Config struct {
	Level     slog.Level
	Format    string // "json" or "text"
	AddSource bool
	Output    io.Writer
}

// DefaultConfig returns a sensible default: text handler, info level, stdout.
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Format: "text",
		Output: os.Stdout,
	}
}

// New builds a *slog.Logger from the given config.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// Noop returns a logger that discards everything, for tests that don't care
// about log output.
func Noop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
