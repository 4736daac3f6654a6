package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/confrag/confrag/internal/bridge"
	"github.com/confrag/confrag/internal/errors"
	"github.com/confrag/confrag/internal/tenant"
)

// Orchestrator runs multi-space exports for tenants. Each run installs the
// tenant's upstream credentials through the bridge, exports the selected
// spaces one at a time with per-space error accumulation, and persists the
// outcome to the tenant's state record.
type Orchestrator struct {
	store    *tenant.Store
	exporter SpaceExporter
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator backed by the given tenant store
// and space exporter.
func NewOrchestrator(store *tenant.Store, exporter SpaceExporter) *Orchestrator {
	return &Orchestrator{
		store:    store,
		exporter: exporter,
		logger:   slog.Default().With(slog.String("component", "export")),
	}
}

// ExportSpaces exports the named spaces for a tenant, or all enabled spaces
// when spaceKeys is empty. A failing space does not abort the run: the
// result is "partial" when some spaces succeed and "failed" when none do.
// The outcome is persisted to tenant state before returning; export never
// changes readiness, so a ready tenant stays queryable on its last good
// index throughout.
func (o *Orchestrator) ExportSpaces(ctx context.Context, tenantID string, spaceKeys []string) (*tenant.ExportResult, error) {
	cfg, err := o.store.Load(tenantID)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	start := time.Now()
	logger := o.logger.With(
		slog.String("tenant_id", tenantID),
		slog.String("session_id", sessionID))

	result := &tenant.ExportResult{
		SessionID: sessionID,
		Timestamp: start.UTC(),
	}

	spaces, selectionErrors := selectSpaces(cfg, spaceKeys)
	result.Errors = append(result.Errors, selectionErrors...)

	logger.Info("export_started", slog.Int("spaces", len(spaces)))

	canceled := false
	if len(spaces) > 0 {
		bridgeErr := bridge.WithConfig(ctx, o.store.Root(), cfg, o.store.ExportsDir(tenantID), func(ctx context.Context, _ *bridge.Settings) error {
			for _, space := range spaces {
				if ctx.Err() != nil {
					canceled = true
					result.Errors = append(result.Errors, tenant.SpaceError{
						SpaceKey: space.Key,
						Error:    fmt.Sprintf("export canceled: %v", ctx.Err()),
					})
					return nil
				}

				exported, err := o.exporter.ExportSpace(ctx, space.Key)
				if err != nil {
					if errors.IsCode(err, errors.ErrCodeExportCanceled) {
						canceled = true
					}
					logger.Warn("space_export_failed",
						slog.String("space_key", space.Key),
						slog.String("error", err.Error()))
					result.Errors = append(result.Errors, tenant.SpaceError{
						SpaceKey: space.Key,
						Error:    err.Error(),
					})
					continue
				}

				logger.Info("space_exported",
					slog.String("space_key", space.Key),
					slog.Int("pages", exported.Pages))
				result.SpacesExported++
				result.PagesExported += exported.Pages
			}
			return nil
		})
		if bridgeErr != nil {
			if ctx.Err() != nil {
				canceled = true
			}
			result.Errors = append(result.Errors, tenant.SpaceError{
				SpaceKey: "*",
				Error:    bridgeErr.Error(),
			})
		}
	}

	result.Duration = time.Since(start).Seconds()
	result.Status = classify(result, canceled)

	logger.Info("export_finished",
		slog.String("status", result.Status),
		slog.Int("spaces_exported", result.SpacesExported),
		slog.Int("pages_exported", result.PagesExported),
		slog.Int("errors", len(result.Errors)))

	// Persist even when the run was canceled; the record of the failed
	// attempt matters more than honoring the dead context.
	persistCtx := context.WithoutCancel(ctx)
	if err := o.store.UpdateExportState(persistCtx, tenantID, result); err != nil {
		return nil, err
	}
	o.writeHistory(tenantID, result, logger)

	return result, nil
}

// selectSpaces resolves the requested keys against the tenant config.
// Empty keys means all enabled spaces. Explicitly requested keys that are
// unknown or disabled produce per-space errors rather than silent skips.
func selectSpaces(cfg *tenant.Config, spaceKeys []string) ([]tenant.Space, []tenant.SpaceError) {
	if len(spaceKeys) == 0 {
		var enabled []tenant.Space
		for _, s := range cfg.Spaces {
			if s.Enabled {
				enabled = append(enabled, s)
			}
		}
		return enabled, nil
	}

	byKey := make(map[string]tenant.Space, len(cfg.Spaces))
	for _, s := range cfg.Spaces {
		byKey[s.Key] = s
	}

	var selected []tenant.Space
	var selectionErrors []tenant.SpaceError
	for _, key := range spaceKeys {
		space, ok := byKey[key]
		switch {
		case !ok:
			selectionErrors = append(selectionErrors, tenant.SpaceError{
				SpaceKey: key,
				Error:    "space not configured for tenant",
			})
		case !space.Enabled:
			selectionErrors = append(selectionErrors, tenant.SpaceError{
				SpaceKey: key,
				Error:    "space is disabled",
			})
		default:
			selected = append(selected, space)
		}
	}
	return selected, selectionErrors
}

func classify(result *tenant.ExportResult, canceled bool) string {
	switch {
	case canceled:
		return tenant.ExportStatusFailed
	case len(result.Errors) == 0:
		return tenant.ExportStatusSuccess
	case result.SpacesExported > 0:
		return tenant.ExportStatusPartial
	default:
		return tenant.ExportStatusFailed
	}
}

// historyFilePrefix names per-run result files under the tenant cache dir.
const historyFilePrefix = "export_"

func (o *Orchestrator) writeHistory(tenantID string, result *tenant.ExportResult, logger *slog.Logger) {
	dir := o.store.CacheDir(tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("export_history_write_failed", slog.String("error", err.Error()))
		return
	}

	name := fmt.Sprintf("%s%s_%s.json",
		historyFilePrefix,
		result.Timestamp.Format("20060102T150405"),
		shortSession(result.SessionID))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Warn("export_history_write_failed", slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		logger.Warn("export_history_write_failed", slog.String("error", err.Error()))
	}
}

// History returns past export results for a tenant, newest first, up to
// limit (0 means all).
func (o *Orchestrator) History(tenantID string, limit int) ([]*tenant.ExportResult, error) {
	if !o.store.Exists(tenantID) {
		return nil, errors.NotFound(tenantID)
	}

	dir := o.store.CacheDir(tenantID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []*tenant.ExportResult{}, nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to read export history", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), historyFilePrefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	// Timestamped names sort chronologically; reverse for newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	results := make([]*tenant.ExportResult, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var r tenant.ExportResult
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		results = append(results, &r)
	}
	return results, nil
}

func shortSession(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}
