// Package logging builds the structured loggers used by the solver, the
// training pipeline and the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls basic logger behaviour.
type Config struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json or text
	AddSource bool   `yaml:"add_source"`
}

// New constructs an slog logger writing to stderr.
func New(cfg Config) *slog.Logger {
	return NewWriter(os.Stderr, cfg)
}

// NewWriter constructs an slog logger writing to w.
func NewWriter(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// FromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT, defaulting to
// a text handler at info level.
func FromEnv() *slog.Logger {
	return New(Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
