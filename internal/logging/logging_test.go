package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "confrag.log")

	logger, cleanup, err := Setup(Config{
		Level:         "info",
		FilePath:      logPath,
		WriteToStderr: false,
	})
	require.NoError(t, err)

	logger.Info("export started", slog.String("tenant_id", "acme"))
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &entry))
	assert.Equal(t, "export started", entry["msg"])
	assert.Equal(t, "acme", entry["tenant_id"])
}

func TestSetup_LevelFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "confrag.log")

	logger, cleanup, err := Setup(Config{
		Level:         "warn",
		FilePath:      logPath,
		WriteToStderr: false,
	})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestRotatingWriter_RotatesAtMaxSize(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "confrag.log")

	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Force rotation by exceeding 1MB
	line := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	_, err = os.Stat(logPath + ".1")
	assert.NoError(t, err, "rotated file should exist")
}

func TestRotatingWriter_KeepsAtMostMaxFiles(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "confrag.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	line := strings.Repeat("x", 256*1024)
	for i := 0; i < 40; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(logPath + ".*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2)
}
