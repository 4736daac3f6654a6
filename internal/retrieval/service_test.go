package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confrag/confrag/internal/config"
	"github.com/confrag/confrag/internal/index"
	"github.com/confrag/confrag/internal/tenant"
)

const testConfigYAML = `
name: Acme Corp
confluence:
  base_url: https://acme.atlassian.net/wiki
  username: bot@acme.example
  api_token: secret-token
spaces:
  - key: PROD
    name: Product Docs
    enabled: true
index:
  strategy: simple
`

const samplePage = `# Deploy Guide

## Rollout

Deployments run through the rollout pipeline. Start a rollout with the
release command and watch the dashboard.

## Rollback

Trigger a rollback immediately if error rates spike after a rollout.
`

func testAppConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	return cfg
}

func newTestTenant(t *testing.T, id string) *tenant.Store {
	t.Helper()
	store := tenant.NewStore(t.TempDir(), nil)
	src := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(src, []byte(testConfigYAML), 0o600))
	_, err := store.Create(id, src)
	require.NoError(t, err)
	return store
}

func writePage(t *testing.T, store *tenant.Store, tenantID, name, content string) {
	t.Helper()
	dir := filepath.Join(store.ExportsDir(tenantID), "PROD")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func buildIndex(t *testing.T, store *tenant.Store, cfg *config.Config, tenantID string, evictor index.Evictor) {
	t.Helper()
	builder := index.NewBuilder(store, cfg, evictor)
	result, err := builder.Build(context.Background(), tenantID)
	require.NoError(t, err)
	require.Equal(t, tenant.IndexStatusSuccess, result.Status)
}

func newReadyService(t *testing.T) (*Service, *tenant.Store, *config.Config) {
	t.Helper()
	store := newTestTenant(t, "acme")
	writePage(t, store, "acme", "deploy.md", samplePage)
	cfg := testAppConfig()
	buildIndex(t, store, cfg, "acme", nil)

	svc, err := NewService(store, cfg)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, store, cfg
}

func TestQuery_Success(t *testing.T) {
	svc, _, _ := newReadyService(t)

	result := svc.Query(context.Background(), "acme", "how do I rollback a release", 3)

	assert.Equal(t, tenant.QueryStatusSuccess, result.Status)
	assert.Empty(t, result.Error)
	require.NotEmpty(t, result.Documents)
	assert.LessOrEqual(t, len(result.Documents), 3)
	for _, d := range result.Documents {
		assert.NotEmpty(t, d.ID)
		assert.NotEmpty(t, d.Content)
		assert.Equal(t, "PROD", d.Metadata["space_key"])
		assert.Greater(t, d.Score, 0.0)
	}
}

func TestQuery_EmptyQuestion(t *testing.T) {
	svc, _, _ := newReadyService(t)

	result := svc.Query(context.Background(), "acme", "   ", 3)
	assert.Equal(t, tenant.QueryStatusError, result.Status)
	assert.Contains(t, result.Error, "empty")
}

func TestQuery_UnknownTenant(t *testing.T) {
	store := tenant.NewStore(t.TempDir(), nil)
	svc, err := NewService(store, testAppConfig())
	require.NoError(t, err)
	defer svc.Close()

	result := svc.Query(context.Background(), "ghost", "anything", 3)
	assert.Equal(t, tenant.QueryStatusError, result.Status)
	assert.Contains(t, result.Error, "not found")
}

func TestQuery_InvalidTenantID(t *testing.T) {
	store := tenant.NewStore(t.TempDir(), nil)
	svc, err := NewService(store, testAppConfig())
	require.NoError(t, err)
	defer svc.Close()

	result := svc.Query(context.Background(), "Not Valid!", "anything", 3)
	assert.Equal(t, tenant.QueryStatusError, result.Status)
}

func TestQuery_NeverBuiltTenantRefused(t *testing.T) {
	store := newTestTenant(t, "acme")
	svc, err := NewService(store, testAppConfig())
	require.NoError(t, err)
	defer svc.Close()

	result := svc.Query(context.Background(), "acme", "anything", 3)
	assert.Equal(t, tenant.QueryStatusError, result.Status)
	assert.Contains(t, result.Error, "no index")
}

func TestQuery_FailedTenantStaysClosed(t *testing.T) {
	store := newTestTenant(t, "acme")
	require.NoError(t, store.SetReadiness(context.Background(), "acme", tenant.ReadinessFailed))

	svc, err := NewService(store, testAppConfig())
	require.NoError(t, err)
	defer svc.Close()

	result := svc.Query(context.Background(), "acme", "anything", 3)
	assert.Equal(t, tenant.QueryStatusError, result.Status)
	assert.Contains(t, result.Error, "failed")
}

func TestQuery_TopKDefaultsAndClamps(t *testing.T) {
	svc, _, _ := newReadyService(t)
	ctx := context.Background()

	result := svc.Query(ctx, "acme", "rollout", 0)
	assert.Equal(t, tenant.QueryStatusSuccess, result.Status)
	assert.LessOrEqual(t, len(result.Documents), DefaultTopK)

	result = svc.Query(ctx, "acme", "rollout", 1000)
	assert.Equal(t, tenant.QueryStatusSuccess, result.Status)
	assert.LessOrEqual(t, len(result.Documents), MaxTopK)
}

func TestQuery_ConcurrentColdStart(t *testing.T) {
	svc, _, _ := newReadyService(t)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*tenant.QueryResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = svc.Query(context.Background(), "acme", "rollout pipeline", 3)
		}()
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, tenant.QueryStatusSuccess, r.Status)
	}
}

func TestEvict_PicksUpRebuiltIndex(t *testing.T) {
	svc, store, cfg := newReadyService(t)
	ctx := context.Background()

	// Warm the handle cache.
	first := svc.Query(ctx, "acme", "rollout", 3)
	require.Equal(t, tenant.QueryStatusSuccess, first.Status)

	// Replace the corpus and rebuild with the service as evictor, the way
	// the builder is wired in production.
	require.NoError(t, os.RemoveAll(store.ExportsDir("acme")))
	writePage(t, store, "acme", "billing.md", `# Billing Guide

## Invoices

Invoices are generated on the first of each month and emailed to the
account owner.
`)
	buildIndex(t, store, cfg, "acme", svc)

	result := svc.Query(ctx, "acme", "when are invoices generated", 3)
	require.Equal(t, tenant.QueryStatusSuccess, result.Status)
	require.NotEmpty(t, result.Documents)

	for _, d := range result.Documents {
		assert.Contains(t, d.Metadata["page_path"], "billing.md")
	}
}

func TestQuery_NeverPanics(t *testing.T) {
	store := newTestTenant(t, "acme")
	require.NoError(t, store.SetReadiness(context.Background(), "acme", tenant.ReadinessReady))
	// Readiness says ready but no index was ever recorded; Queryable is
	// false and the query is refused cleanly.
	svc, err := NewService(store, testAppConfig())
	require.NoError(t, err)
	defer svc.Close()

	result := svc.Query(context.Background(), "acme", "anything", 3)
	assert.Equal(t, tenant.QueryStatusError, result.Status)
}

func TestQuery_RecordsMetrics(t *testing.T) {
	svc, _, _ := newReadyService(t)

	svc.Query(context.Background(), "acme", "how do I roll back a deployment?", 3)
	svc.Query(context.Background(), "ghost", "anything", 3)

	snap := svc.Metrics().Snapshot("acme")
	assert.Equal(t, int64(1), snap.TotalQueries)
	assert.Zero(t, snap.FailedQueries)

	snap = svc.Metrics().Snapshot("ghost")
	assert.Equal(t, int64(1), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.FailedQueries)
}

func TestQuery_SucceedsDuringEvictionChurn(t *testing.T) {
	svc, _, _ := newReadyService(t)

	stop := make(chan struct{})
	var evictor sync.WaitGroup
	evictor.Add(1)
	go func() {
		defer evictor.Done()
		for {
			select {
			case <-stop:
				return
			default:
				svc.Evict("acme")
			}
		}
	}()

	const workers = 4
	const queriesEach = 25
	failures := make(chan string, workers*queriesEach)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < queriesEach; i++ {
				result := svc.Query(context.Background(), "acme", "rollback after a failed rollout", 3)
				if result.Status != tenant.QueryStatusSuccess {
					failures <- result.Error
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	evictor.Wait()
	close(failures)

	for msg := range failures {
		t.Fatalf("query against a ready tenant failed while handles were being evicted: %s", msg)
	}
}

func TestEvict_DefersCloseUntilQueriesRelease(t *testing.T) {
	svc, _, _ := newReadyService(t)

	h, err := svc.handle(context.Background(), "acme")
	require.NoError(t, err)

	svc.Evict("acme")

	// The evicted handle is still held by the caller above, so its stores
	// must remain open and searchable.
	hits, err := h.searcher.Search(context.Background(), "rollback", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	h.release()

	// Fully released after retirement: the underlying stores are closed.
	_, err = h.searcher.Search(context.Background(), "rollback", 3)
	assert.Error(t, err)
}
