// Package logging wires slog to a rotated JSON log file under
// ~/.confrag/logs/, with an optional stderr mirror. The CLI enables it
// through --debug; the MCP server keeps stdout clean for the protocol and
// logs to the file only.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultMaxSizeMB = 10
	defaultMaxFiles  = 5
)

// Config controls where log records go and which levels survive.
type Config struct {
	Level         string // debug, info, warn, error
	FilePath      string
	MaxSizeMB     int
	MaxFiles      int
	WriteToStderr bool
}

// DefaultConfig logs at info level to the default file path and stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     defaultMaxSizeMB,
		MaxFiles:      defaultMaxFiles,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig at debug level.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// DefaultLogPath is ~/.confrag/logs/confrag.log, or a temp-dir fallback when
// the home directory cannot be resolved.
func DefaultLogPath() string {
	base, err := os.UserHomeDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, ".confrag", "logs", "confrag.log")
}

// Setup builds a JSON slog.Logger backed by a rotating file writer. The
// returned cleanup flushes and closes the file; callers defer it.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaultMaxSizeMB
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxFiles
	}

	file, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var sink io.Writer = file
	if cfg.WriteToStderr {
		sink = io.MultiWriter(file, os.Stderr)
	}

	logger := slog.New(slog.NewJSONHandler(sink, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}))

	return logger, func() {
		_ = file.Sync()
		_ = file.Close()
	}, nil
}

// SetupDefault installs a debug-level logger as slog's default.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DebugConfig())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

func parseLevel(level string) slog.Level {
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
