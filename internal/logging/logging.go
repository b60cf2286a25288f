// Package logging builds the slog logger chorus writes diagnostics to.
// Diagnostics go to stderr so they never interleave with streamed answers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/torosent/chorus/internal/runner"
)

// Config describes how the logger should behave.
type Config struct {
	Level  string
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds a logger. Unknown levels fall back to warn and unknown formats
// to text.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// FailureLogger reports failed targets through a slog logger.
type FailureLogger struct {
	Logger *slog.Logger
}

// NewFailureLogger returns a runner.FailureLogger backed by logger.
func NewFailureLogger(logger *slog.Logger) *FailureLogger {
	return &FailureLogger{Logger: logger}
}

func (l *FailureLogger) LogFailure(target runner.Target, err error) {
	if err == nil || l == nil || l.Logger == nil {
		return
	}
	l.Logger.Warn("target failed", "provider", target.Provider, "model", target.Model, "error", err)
}

var _ runner.FailureLogger = (*FailureLogger)(nil)
