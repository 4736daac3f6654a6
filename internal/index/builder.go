// Package index turns a tenant's exported markdown tree into the hybrid
// search index queries run against.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/confrag/confrag/internal/chunk"
	"github.com/confrag/confrag/internal/config"
	"github.com/confrag/confrag/internal/embed"
	"github.com/confrag/confrag/internal/errors"
	"github.com/confrag/confrag/internal/store"
	"github.com/confrag/confrag/internal/tenant"
)

// pageReadConcurrency bounds parallel file reads during page loading.
const pageReadConcurrency = 8

// Evictor is notified when a tenant's index has been rebuilt so cached
// search handles over the old files get dropped.
type Evictor interface {
	Evict(tenantID string)
}

// strategyFunc builds the chunker for a tenant's index configuration.
type strategyFunc func(cfg *tenant.IndexConfig) chunk.Chunker

var strategies = map[string]strategyFunc{
	store.StrategySimple: func(cfg *tenant.IndexConfig) chunk.Chunker {
		return chunk.NewMarkdownChunker(chunkTokens(cfg.ChunkSize, chunk.DefaultMaxChunkTokens))
	},
	store.StrategyParentDocument: func(cfg *tenant.IndexConfig) chunk.Chunker {
		return chunk.NewParentDocumentChunker(
			chunkTokens(cfg.ChunkSize, chunk.DefaultMaxChunkTokens),
			chunk.DefaultParentTokens)
	},
}

// chunkTokens converts a configured character budget to tokens, falling back
// to the default when unset.
func chunkTokens(chunkSize, fallback int) int {
	if chunkSize <= 0 {
		return fallback
	}
	return chunkSize / chunk.TokensPerChar
}

// Builder runs full index rebuilds for tenants.
type Builder struct {
	store   *tenant.Store
	cfg     *config.Config
	evictor Evictor
	logger  *slog.Logger
}

// NewBuilder creates a builder. evictor may be nil when no retrieval service
// is running in the process.
func NewBuilder(tenantStore *tenant.Store, cfg *config.Config, evictor Evictor) *Builder {
	return &Builder{
		store:   tenantStore,
		cfg:     cfg,
		evictor: evictor,
		logger:  slog.Default().With(slog.String("component", "index")),
	}
}

// Build rebuilds the tenant's index from its exported pages.
//
// With no exported documents the build returns a no_documents result and
// leaves both readiness and the last good index record untouched, so a
// previously ready tenant keeps serving. Otherwise readiness transitions to
// building for the duration and lands on ready or failed with the result
// persisted. The build runs in a staging directory that replaces the live
// index only on success; a failed or canceled build discards the staged
// output and leaves the previous index files untouched.
func (b *Builder) Build(ctx context.Context, tenantID string) (*tenant.IndexResult, error) {
	cfg, err := b.store.Load(tenantID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logger := b.logger.With(slog.String("tenant_id", tenantID))

	pages, err := b.loadPages(ctx, tenantID, cfg)
	if err != nil {
		return nil, err
	}

	if len(pages) == 0 {
		logger.Info("index_skipped", slog.String("reason", "no documents exported"))
		result := &tenant.IndexResult{
			Status:    tenant.IndexStatusNoDocuments,
			Timestamp: start.UTC(),
			Duration:  time.Since(start).Seconds(),
		}
		// no_documents is recorded nowhere: readiness and the last index
		// record keep whatever the previous build left.
		if err := b.store.UpdateIndexState(ctx, tenantID, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := b.store.SetReadiness(ctx, tenantID, tenant.ReadinessBuilding); err != nil {
		return nil, err
	}

	result := b.runBuild(ctx, tenantID, cfg, pages, start, logger)

	persistCtx := context.WithoutCancel(ctx)
	if err := b.store.UpdateIndexState(persistCtx, tenantID, result); err != nil {
		return nil, err
	}

	if result.Status == tenant.IndexStatusSuccess && b.evictor != nil {
		b.evictor.Evict(tenantID)
	}
	return result, nil
}

func (b *Builder) runBuild(ctx context.Context, tenantID string, cfg *tenant.Config, pages []*chunk.Page, start time.Time, logger *slog.Logger) *tenant.IndexResult {
	fail := func(err error) *tenant.IndexResult {
		logger.Error("index_failed", slog.String("error", err.Error()))
		return &tenant.IndexResult{
			Status:    tenant.IndexStatusFailed,
			Error:     err.Error(),
			Timestamp: start.UTC(),
			Duration:  time.Since(start).Seconds(),
		}
	}

	strategy := cfg.Index.Strategy
	if strategy == "" {
		strategy = store.StrategySimple
	}
	newChunker, ok := strategies[strategy]
	if !ok {
		return fail(errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown index strategy %q", strategy), nil))
	}
	chunker := newChunker(&cfg.Index)

	var chunks []*chunk.Chunk
	for _, page := range pages {
		if ctx.Err() != nil {
			return fail(errors.New(errors.ErrCodeExportCanceled, "index build canceled", ctx.Err()))
		}
		pageChunks, err := chunker.Chunk(ctx, page)
		if err != nil {
			return fail(errors.New(errors.ErrCodeBuildFailed,
				fmt.Sprintf("chunking %s failed", page.Path), err))
		}
		chunks = append(chunks, pageChunks...)
	}

	embedder, err := b.newEmbedder(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = embedder.Close() }()

	logger.Info("index_building",
		slog.String("strategy", strategy),
		slog.String("embedding_model", embedder.ModelName()),
		slog.Int("pages", len(pages)),
		slog.Int("chunks", len(chunks)))

	// Build into a staging directory and swap it in only on success, so a
	// failed or interrupted build never damages the last good index.
	staging, err := os.MkdirTemp(b.store.TenantDir(tenantID), "index-build-")
	if err != nil {
		return fail(errors.New(errors.ErrCodeBuildFailed, "failed to create staging directory", err))
	}
	defer func() { _ = os.RemoveAll(staging) }()

	stats, err := store.Build(ctx, staging, cfg.Index.CollectionName, chunks, embedder, strategy)
	if err != nil {
		if ctx.Err() != nil {
			return fail(errors.New(errors.ErrCodeExportCanceled, "index build canceled", ctx.Err()))
		}
		return fail(err)
	}

	if err := swapIndexDir(staging, b.store.IndexDir(tenantID)); err != nil {
		return fail(errors.New(errors.ErrCodeBuildFailed, "failed to activate rebuilt index", err))
	}

	logger.Info("index_built",
		slog.Int("documents", stats.Documents),
		slog.Int("pages", stats.Pages),
		slog.Float64("duration_seconds", time.Since(start).Seconds()))

	return &tenant.IndexResult{
		Status:           tenant.IndexStatusSuccess,
		DocumentsIndexed: stats.Pages,
		ChunksCreated:    stats.Documents,
		Timestamp:        start.UTC(),
		Duration:         time.Since(start).Seconds(),
	}
}

// swapIndexDir moves the old index aside, renames the staged build into
// place, then discards the old files. Open handles keep reading the renamed
// files until they close. A failed rename of the staged build puts the old
// index back.
func swapIndexDir(staging, live string) error {
	old := live + ".old"
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	if _, err := os.Stat(live); err == nil {
		if err := os.Rename(live, old); err != nil {
			return err
		}
	}
	if err := os.Rename(staging, live); err != nil {
		_ = os.Rename(old, live)
		return err
	}
	return os.RemoveAll(old)
}

// newEmbedder builds the embedder for a tenant, letting the tenant's
// configured model override the application default.
func (b *Builder) newEmbedder(ctx context.Context, cfg *tenant.Config) (embed.Embedder, error) {
	model := b.cfg.Embeddings.Model
	if cfg.Index.EmbeddingModel != "" {
		model = cfg.Index.EmbeddingModel
	}
	return embed.NewEmbedder(ctx,
		embed.ParseProvider(b.cfg.Embeddings.Provider),
		model,
		b.cfg.Embeddings.OllamaHost)
}

// loadPages reads every exported markdown file under the tenant's exports
// directory, in parallel. The first path segment is the space key.
func (b *Builder) loadPages(ctx context.Context, tenantID string, cfg *tenant.Config) ([]*chunk.Page, error) {
	root := b.store.ExportsDir(tenantID)

	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to scan exports directory", err)
	}

	pages := make([]*chunk.Page, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageReadConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return errors.New(errors.ErrCodeStateIO,
					fmt.Sprintf("failed to read exported page %s", path), err)
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			pages[i] = &chunk.Page{
				Path:     filepath.ToSlash(rel),
				SpaceKey: spaceKeyFromPath(rel),
				Title:    titleFromPage(content, filepath.Base(path)),
				Content:  content,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func spaceKeyFromPath(rel string) string {
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	if len(parts) == 2 {
		return parts[0]
	}
	return ""
}

// titleFromPage takes the first H1, falling back to the file name without
// extension.
func titleFromPage(content []byte, fileName string) string {
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			break
		}
	}
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}
