package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-drag/pkg/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" TRACE ": slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"off":     LevelOff,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	got, ok := ParseLevel("loud")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, got)
}

func TestNewJSONRespectsLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	var buf bytes.Buffer
	log := New(config.Log{Level: "warn", Format: "json"}, &buf)

	log.Info("hidden")
	log.Warn("shown", slog.String("peer", "a"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "a", line["peer"])
}

func TestEnvLevelWins(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	var buf bytes.Buffer
	log := New(config.Log{Level: "error"}, &buf)

	log.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}
