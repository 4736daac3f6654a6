package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter is an io.Writer that appends to a log file and rotates it
// once the file would exceed maxSize. Rotated files are kept as
// <path>.1 .. <path>.<maxFiles>, oldest last.
type RotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingWriter opens path for appending, creating the parent directory
// if needed. maxSizeMB bounds the active file, maxFiles bounds how many
// rotated generations survive.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		maxSize:  int64(maxSizeMB) << 20,
		maxFiles: maxFiles,
	}
	if err := w.reopen(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			// Keep logging into the oversized file rather than drop records.
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Sync flushes buffered writes to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the active log file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) reopen() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// rotate shifts the generation chain up by one: .N-1 becomes .N and the
// active file becomes .1. The oldest generation falls off the end.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		w.file = nil
	}

	generation := func(n int) string {
		return fmt.Sprintf("%s.%d", w.path, n)
	}
	os.Remove(generation(w.maxFiles))
	for n := w.maxFiles - 1; n >= 1; n-- {
		if _, err := os.Stat(generation(n)); err == nil {
			os.Rename(generation(n), generation(n+1))
		}
	}
	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, generation(1)); err != nil {
			return fmt.Errorf("rotate log file: %w", err)
		}
	}

	w.size = 0
	return w.reopen()
}
