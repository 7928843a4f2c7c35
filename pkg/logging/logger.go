// Package logging provides structured logging configuration and utilities.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds logging configuration.
type Config struct {
	Level  string
	Pretty bool
	// NoColor disables ANSI colors in pretty output.
	NoColor bool
}

// NewLogger builds a logger writing to out: JSON lines by default, a
// human-readable colored console format when Pretty is set.
func NewLogger(cfg Config, out io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)

	if cfg.Pretty {
		return slog.New(tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    cfg.NoColor,
		}))
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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
