// Package retrieval serves tenant queries against built indexes, caching
// per-tenant search handles between calls.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/confrag/confrag/internal/config"
	"github.com/confrag/confrag/internal/embed"
	"github.com/confrag/confrag/internal/store"
	"github.com/confrag/confrag/internal/telemetry"
	"github.com/confrag/confrag/internal/tenant"
)

const (
	// DefaultTopK is used when the caller does not specify a result count.
	DefaultTopK = 3

	// MaxTopK bounds a single query's result count.
	MaxTopK = 20

	defaultCacheSize = 16
)

// Handle bundles everything needed to search one tenant's collection: the
// opened indexes plus the embedder they were built with.
//
// Handles are reference-counted. Eviction retires a handle so no new query
// picks it up, but queries already holding it keep searching the old index;
// the last release after retirement closes the underlying stores.
type Handle struct {
	tenantID string
	searcher *store.Searcher
	embedder embed.Embedder

	mu      sync.Mutex
	refs    int
	retired bool
}

// acquire registers a user of the handle. It fails once the handle has been
// retired, telling the caller to open a fresh one.
func (h *Handle) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired {
		return false
	}
	h.refs++
	return true
}

// release undoes one acquire. The last release of a retired handle closes it.
func (h *Handle) release() {
	h.mu.Lock()
	h.refs--
	closeNow := h.retired && h.refs == 0
	h.mu.Unlock()
	if closeNow {
		h.closeStores()
	}
}

// retire bars new acquires. A handle with no users closes immediately;
// otherwise in-flight queries finish against it first.
func (h *Handle) retire() {
	h.mu.Lock()
	closeNow := !h.retired && h.refs == 0
	h.retired = true
	h.mu.Unlock()
	if closeNow {
		h.closeStores()
	}
}

func (h *Handle) closeStores() {
	_ = h.searcher.Close()
	_ = h.embedder.Close()
}

// Service answers tenant queries. Handles are cached in an LRU keyed by
// tenant id; eviction retires the evicted handle, which closes once its last
// in-flight query releases it. Concurrent first queries for a cold tenant
// construct the handle exactly once via singleflight.
type Service struct {
	store   *tenant.Store
	cfg     *config.Config
	cache   *lru.Cache[string, *Handle]
	group   singleflight.Group
	metrics *telemetry.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewService creates a retrieval service over the given tenant store.
func NewService(tenantStore *tenant.Store, cfg *config.Config) (*Service, error) {
	size := cfg.Search.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.NewWithEvict[string, *Handle](size, func(_ string, h *Handle) {
		h.retire()
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		store:   tenantStore,
		cfg:     cfg,
		cache:   cache,
		metrics: telemetry.NewMetrics(),
		logger:  slog.Default().With(slog.String("component", "retrieval")),
	}, nil
}

// Query runs a hybrid search for one tenant. All failures come back in-band
// as QueryResult{Status: "error"}; the error return is reserved for nothing
// today and callers may ignore it.
//
// Queries are refused unless the tenant is ready with a recorded index: a
// tenant whose last build failed stays closed until a successful rebuild,
// and a building tenant keeps serving only through already-open handles.
func (s *Service) Query(ctx context.Context, tenantID, question string, topK int) *tenant.QueryResult {
	start := time.Now()
	result := s.query(ctx, tenantID, question, topK)
	s.metrics.Record(telemetry.QueryEvent{
		TenantID:    tenantID,
		Question:    question,
		ResultCount: len(result.Documents),
		Failed:      result.Status == tenant.QueryStatusError,
		Latency:     time.Since(start),
		Timestamp:   start,
	})
	return result
}

func (s *Service) query(ctx context.Context, tenantID, question string, topK int) *tenant.QueryResult {
	result := &tenant.QueryResult{
		TenantID: tenantID,
		Question: question,
	}
	fail := func(msg string) *tenant.QueryResult {
		result.Status = tenant.QueryStatusError
		result.Error = msg
		return result
	}

	if strings.TrimSpace(question) == "" {
		return fail("question must not be empty")
	}
	if err := tenant.ValidateID(tenantID); err != nil {
		return fail(err.Error())
	}
	if !s.store.Exists(tenantID) {
		return fail(fmt.Sprintf("tenant %q not found", tenantID))
	}

	switch {
	case topK <= 0:
		topK = DefaultTopK
	case topK > MaxTopK:
		topK = MaxTopK
	}

	state, err := s.store.GetState(tenantID)
	if err != nil {
		return fail(err.Error())
	}
	if !state.Queryable() {
		return fail(notQueryableReason(state))
	}

	handle, err := s.handle(ctx, tenantID)
	if err != nil {
		return fail(err.Error())
	}
	defer handle.release()

	hits, err := handle.searcher.Search(ctx, question, topK)
	if err != nil {
		s.logger.Warn("query_failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()))
		return fail(err.Error())
	}

	result.Status = tenant.QueryStatusSuccess
	result.Documents = make([]tenant.RetrievedDocument, 0, len(hits))
	for _, hit := range hits {
		result.Documents = append(result.Documents, retrievedFromHit(hit))
	}
	return result
}

func notQueryableReason(state *tenant.State) string {
	switch state.Readiness {
	case tenant.ReadinessNeverBuilt:
		return "tenant has no index yet; run export and index first"
	case tenant.ReadinessBuilding:
		return "index build in progress; try again shortly"
	case tenant.ReadinessFailed:
		return "last index build failed; rebuild the index before querying"
	default:
		return "tenant has no recorded index"
	}
}

// handle returns an acquired handle for a tenant, constructing it at most
// once across concurrent callers. Callers must release the handle after the
// search. A handle evicted between lookup and acquire is treated as a miss
// and opened again, so queries racing an eviction land on the new index
// instead of failing.
func (s *Service) handle(ctx context.Context, tenantID string) (*Handle, error) {
	const maxAttempts = 4
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if h, ok := s.cache.Get(tenantID); ok && h.acquire() {
			return h, nil
		}

		v, err, _ := s.group.Do(tenantID, func() (interface{}, error) {
			if h, ok := s.cache.Get(tenantID); ok {
				return h, nil
			}
			h, err := s.openHandle(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			s.cache.Add(tenantID, h)
			return h, nil
		})
		if err != nil {
			return nil, err
		}
		if h := v.(*Handle); h.acquire() {
			return h, nil
		}
		// Retired while the flight was shared; open a fresh one.
		s.group.Forget(tenantID)
	}

	// Eviction churn kept invalidating the cached handle. Serve this query
	// from a private handle that closes when the query releases it.
	h, err := s.openHandle(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	h.acquire()
	h.retire()
	return h, nil
}

func (s *Service) openHandle(ctx context.Context, tenantID string) (*Handle, error) {
	cfg, err := s.store.Load(tenantID)
	if err != nil {
		return nil, err
	}

	model := s.cfg.Embeddings.Model
	if cfg.Index.EmbeddingModel != "" {
		model = cfg.Index.EmbeddingModel
	}
	embedder, err := embed.NewEmbedder(ctx,
		embed.ParseProvider(s.cfg.Embeddings.Provider),
		model,
		s.cfg.Embeddings.OllamaHost)
	if err != nil {
		return nil, err
	}

	searcher, err := store.Open(ctx, s.store.IndexDir(tenantID), embedder, store.OpenOptions{
		Weights: store.Weights{
			Keyword: s.cfg.Search.KeywordWeight,
			Vector:  s.cfg.Search.VectorWeight,
		},
		RRFConstant: s.cfg.Search.RRFConstant,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	s.logger.Debug("handle_opened", slog.String("tenant_id", tenantID))
	return &Handle{tenantID: tenantID, searcher: searcher, embedder: embedder}, nil
}

// Metrics returns the in-process query metrics registry.
func (s *Service) Metrics() *telemetry.Metrics {
	return s.metrics
}

// Evict drops a tenant's cached handle. The index builder calls this after a
// successful rebuild and the state watcher calls it when state.json changes
// under a serve process. Queries holding the handle keep serving the old
// index until they finish; the next query opens the rebuilt one.
func (s *Service) Evict(tenantID string) {
	if s.cache.Remove(tenantID) {
		s.logger.Debug("handle_evicted", slog.String("tenant_id", tenantID))
	}
}

// Close retires every cached handle.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cache.Purge()
}

func retrievedFromHit(hit *store.Hit) tenant.RetrievedDocument {
	meta := make(map[string]string, len(hit.Document.Metadata)+3)
	for k, v := range hit.Document.Metadata {
		meta[k] = v
	}
	meta["space_key"] = hit.Document.SpaceKey
	meta["page_path"] = hit.Document.PagePath
	meta["title"] = hit.Document.Title

	return tenant.RetrievedDocument{
		ID:       hit.Document.ID,
		Content:  hit.Document.Content,
		Score:    hit.Score,
		Metadata: meta,
	}
}
