// Package logging builds the slog logger shared by the binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/roboricindustries/raycon-drag/pkg/config"
)

// EnvLogLevel overrides the configured level.
const EnvLogLevel = "RAYCON_DRAG_LOG_LEVEL"

// LevelOff is above every level slog emits.
const LevelOff = slog.Level(12)

// New returns a text or JSON logger writing to w (stderr when nil).
func New(cfg config.Log, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, ok := ParseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		level, _ = ParseLevel(cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// ParseLevel reports false for empty or unknown input, returning Info.
func ParseLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace", "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "disabled", "off", "none":
		return LevelOff, true
	default:
		return slog.LevelInfo, false
	}
}
