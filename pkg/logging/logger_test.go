package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn"}, &buf)

	logger.Info("Dropped")
	logger.Warn("Rule matched nothing", "type", "RTCDeviceProperty")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1, "info is below the configured level")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "Rule matched nothing", entry["msg"])
	assert.Equal(t, "RTCDeviceProperty", entry["type"])
}

func TestNewLoggerPretty(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Pretty: true, NoColor: true}, &buf)

	logger.Debug("Stripped enum prefix", "type", "RTCFormat", "renamed", 8)

	out := buf.String()
	assert.Contains(t, out, "DBG Stripped enum prefix")
	assert.Contains(t, out, "type=RTCFormat")
	assert.Contains(t, out, "renamed=8")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
