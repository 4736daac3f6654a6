// Package watcher invalidates cached search handles when tenant state
// changes on disk. A serve process is not the only writer: CLI runs in other
// processes rebuild indexes and update state.json, and the long-running
// server must notice without restarting.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow coalesces the burst of writes a single state update
// produces (temp file, rename, directory update) into one eviction.
const DefaultDebounceWindow = 200 * time.Millisecond

const stateFileName = "state.json"

// Evictor drops a tenant's cached resources.
type Evictor interface {
	Evict(tenantID string)
}

// StateWatcher watches every tenant's state.json via fsnotify and calls the
// evictor when one changes. New tenant directories are picked up as they
// appear.
type StateWatcher struct {
	tenantsDir string
	evictor    Evictor
	debounce   time.Duration
	logger     *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewStateWatcher creates a watcher over tenantsDir (the directory holding
// one subdirectory per tenant). debounce <= 0 uses the default window.
func NewStateWatcher(tenantsDir string, evictor Evictor, debounce time.Duration) (*StateWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &StateWatcher{
		tenantsDir: tenantsDir,
		evictor:    evictor,
		debounce:   debounce,
		logger:     slog.Default().With(slog.String("component", "watcher")),
		fsw:        fsw,
		timers:     make(map[string]*time.Timer),
	}, nil
}

// Start begins watching and returns immediately; the watch loop runs until
// ctx is canceled or Stop is called.
func (w *StateWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.tenantsDir, 0o755); err != nil {
		return fmt.Errorf("create tenants directory: %w", err)
	}
	if err := w.fsw.Add(w.tenantsDir); err != nil {
		return fmt.Errorf("watch tenants directory: %w", err)
	}

	entries, err := os.ReadDir(w.tenantsDir)
	if err != nil {
		return fmt.Errorf("list tenants directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.watchTenantDir(filepath.Join(w.tenantsDir, e.Name()))
		}
	}

	go w.loop(ctx)
	return nil
}

func (w *StateWatcher) watchTenantDir(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("watch_tenant_failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
	}
}

func (w *StateWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *StateWatcher) handleEvent(event fsnotify.Event) {
	// A new tenant directory appears directly under the tenants dir.
	if event.Op.Has(fsnotify.Create) && filepath.Dir(event.Name) == w.tenantsDir {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watchTenantDir(event.Name)
			return
		}
	}

	if filepath.Base(event.Name) != stateFileName {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	tenantID := filepath.Base(filepath.Dir(event.Name))
	w.scheduleEvict(tenantID)
}

// scheduleEvict debounces per tenant: the eviction fires once the writes
// settle for a full window.
func (w *StateWatcher) scheduleEvict(tenantID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if timer, ok := w.timers[tenantID]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[tenantID] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, tenantID)
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return
		}
		w.logger.Info("state_changed", slog.String("tenant_id", tenantID))
		w.evictor.Evict(tenantID)
	})
}

// Stop halts watching and cancels pending evictions. Safe to call twice.
func (w *StateWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for id, timer := range w.timers {
		timer.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
