package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/commission-recon/internal/infrastructure/config"
)

func TestMavenHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewMavenHandler(&buf, nil)).With("system", "match")

	logger.Info("run saved", "run_id", "run-1", "auto", 12, "note", "two words", "took", 1500*time.Millisecond)

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "[INFO] [match] ["), line)
	assert.Contains(t, line, " run saved run_id=run-1 auto=12")
	assert.Contains(t, line, `note="two words"`)
	assert.Contains(t, line, "took=1500ms")
	assert.NotContains(t, line, "system=")
	assert.NotContains(t, line, "\033[", "buffers are not terminals")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestMavenHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewMavenHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("failed", "error", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "[ERROR]")
	assert.Contains(t, out, "error=boom")
}

func TestMavenHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewMavenHandler(&buf, nil))

	logger.WithGroup("http").With("method", "GET").Info("request", "status", 200)
	logger.Info("totals", slog.Group("counts", "auto", 1, "review", 2))

	out := buf.String()
	assert.Contains(t, out, "http.method=GET http.status=200")
	assert.Contains(t, out, "counts.auto=1 counts.review=2")
}

func TestNewLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, config.LoggingConfig{Level: "debug", Format: "json"})

	logger.Debug("scored", "line_id", "L-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scored", entry["msg"])
	assert.Equal(t, "L-1", entry["line_id"])
	assert.Equal(t, "DEBUG", entry["level"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
