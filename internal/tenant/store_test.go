package tenant

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confrag/confrag/internal/errors"
)

const testConfigYAML = `
name: Acme Corp
confluence:
  base_url: https://acme.atlassian.net/wiki
  username: bot@acme.example
  api_token: env:ACME_CONFLUENCE_TOKEN
spaces:
  - key: PROD
    name: Product Docs
    enabled: true
  - key: ENG
    name: Engineering
    enabled: true
  - key: ARCHIVE
    name: Old Stuff
    enabled: false
index:
  strategy: simple
  embedding_model: nomic-embed-text
  chunk_size: 800
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), nil)
}

func writeSourceConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreateAndLoad(t *testing.T) {
	store := newTestStore(t)
	src := writeSourceConfig(t, testConfigYAML)

	cfg, err := store.Create("acme", src)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.ID)
	assert.Equal(t, "Acme Corp", cfg.Name)
	assert.Equal(t, "tenant_acme_documents", cfg.Index.CollectionName)
	assert.Equal(t, 800, cfg.Index.ChunkSize)

	// Tenant directories exist.
	assert.DirExists(t, store.ExportsDir("acme"))
	assert.DirExists(t, store.IndexDir("acme"))

	// Initial state is never_built with no history.
	st, err := store.GetState("acme")
	require.NoError(t, err)
	assert.Equal(t, ReadinessNeverBuilt, st.Readiness)
	assert.Nil(t, st.LastExport)
	assert.Nil(t, st.LastIndex)

	loaded, err := store.Load("acme")
	require.NoError(t, err)
	assert.Equal(t, cfg.Index.CollectionName, loaded.Index.CollectionName)
	assert.Equal(t, []string{"PROD", "ENG"}, loaded.EnabledSpaceKeys())
}

func TestCreateDuplicateFails(t *testing.T) {
	store := newTestStore(t)
	src := writeSourceConfig(t, testConfigYAML)

	_, err := store.Create("acme", src)
	require.NoError(t, err)

	_, err = store.Create("acme", src)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTenantExists))
}

func TestCreateInvalidConfig(t *testing.T) {
	store := newTestStore(t)

	// Missing base_url.
	src := writeSourceConfig(t, "name: Broken\nspaces:\n  - key: X\n    enabled: true\n")
	_, err := store.Create("broken", src)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))

	// Bad tenant id.
	src2 := writeSourceConfig(t, testConfigYAML)
	_, err = store.Create("Bad ID", src2)
	assert.Error(t, err)
}

func TestLoadUnknownTenant(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load("ghost")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTenantNotFound))
}

func TestLoadReflectsOutOfBandEdit(t *testing.T) {
	store := newTestStore(t)
	src := writeSourceConfig(t, testConfigYAML)
	_, err := store.Create("acme", src)
	require.NoError(t, err)

	cfg, err := store.Load("acme")
	require.NoError(t, err)
	require.Len(t, cfg.EnabledSpaceKeys(), 2)

	// Edit the durable config directly; the very next Load sees it.
	path := filepath.Join(store.TenantDir("acme"), "config.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, []byte("\nname: Renamed\n")...), 0o600))

	cfg2, err := store.Load("acme")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", cfg2.Name)
}

func TestUpdateExportState(t *testing.T) {
	store := newTestStore(t)
	src := writeSourceConfig(t, testConfigYAML)
	_, err := store.Create("acme", src)
	require.NoError(t, err)

	result := &ExportResult{
		Status:         ExportStatusPartial,
		SpacesExported: 1,
		Errors:         []SpaceError{{SpaceKey: "ENG", Error: "boom"}},
		Timestamp:      time.Now().UTC(),
	}
	require.NoError(t, store.UpdateExportState(context.Background(), "acme", result))

	st, err := store.GetState("acme")
	require.NoError(t, err)
	require.NotNil(t, st.LastExport)
	assert.Equal(t, ExportStatusPartial, st.LastExport.Status)
	assert.Len(t, st.LastExport.Errors, 1)

	// Export updates never touch readiness.
	assert.Equal(t, ReadinessNeverBuilt, st.Readiness)
}

func TestUpdateIndexStateTransitions(t *testing.T) {
	store := newTestStore(t)
	src := writeSourceConfig(t, testConfigYAML)
	_, err := store.Create("acme", src)
	require.NoError(t, err)
	ctx := context.Background()

	// Success flips readiness to ready.
	require.NoError(t, store.UpdateIndexState(ctx, "acme", &IndexResult{
		Status: IndexStatusSuccess, DocumentsIndexed: 5, ChunksCreated: 30,
	}))
	st, err := store.GetState("acme")
	require.NoError(t, err)
	assert.Equal(t, ReadinessReady, st.Readiness)
	assert.True(t, st.Queryable())

	// no_documents leaves readiness and the last index record untouched.
	require.NoError(t, store.UpdateIndexState(ctx, "acme", &IndexResult{
		Status: IndexStatusNoDocuments,
	}))
	st, err = store.GetState("acme")
	require.NoError(t, err)
	assert.Equal(t, ReadinessReady, st.Readiness)
	assert.Equal(t, 5, st.LastIndex.DocumentsIndexed)

	// Failure fails closed.
	require.NoError(t, store.UpdateIndexState(ctx, "acme", &IndexResult{
		Status: IndexStatusFailed, Error: "embedder down",
	}))
	st, err = store.GetState("acme")
	require.NoError(t, err)
	assert.Equal(t, ReadinessFailed, st.Readiness)
	assert.False(t, st.Queryable())
}

func TestSetReadiness(t *testing.T) {
	store := newTestStore(t)
	src := writeSourceConfig(t, testConfigYAML)
	_, err := store.Create("acme", src)
	require.NoError(t, err)

	require.NoError(t, store.SetReadiness(context.Background(), "acme", ReadinessBuilding))
	st, err := store.GetState("acme")
	require.NoError(t, err)
	assert.Equal(t, ReadinessBuilding, st.Readiness)
}

func TestStateUpdatesForUnknownTenant(t *testing.T) {
	store := newTestStore(t)
	err := store.SetReadiness(context.Background(), "ghost", ReadinessBuilding)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTenantNotFound))
}

func TestConcurrentStateUpdatesSameTenant(t *testing.T) {
	store := newTestStore(t)
	src := writeSourceConfig(t, testConfigYAML)
	_, err := store.Create("acme", src)
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.UpdateExportState(ctx, "acme", &ExportResult{
				Status:         ExportStatusSuccess,
				SpacesExported: n,
				Timestamp:      time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	// State is well-formed after concurrent writers.
	st, err := store.GetState("acme")
	require.NoError(t, err)
	require.NotNil(t, st.LastExport)
	assert.Equal(t, ExportStatusSuccess, st.LastExport.Status)
}

func TestTenantIsolation(t *testing.T) {
	store := newTestStore(t)
	src := writeSourceConfig(t, testConfigYAML)

	_, err := store.Create("acme", src)
	require.NoError(t, err)
	_, err = store.Create("globex", src)
	require.NoError(t, err)

	cfgA, err := store.Load("acme")
	require.NoError(t, err)
	cfgB, err := store.Load("globex")
	require.NoError(t, err)
	assert.NotEqual(t, cfgA.Index.CollectionName, cfgB.Index.CollectionName)

	// Indexing acme never moves globex's state.
	require.NoError(t, store.UpdateIndexState(context.Background(), "acme", &IndexResult{
		Status: IndexStatusSuccess,
	}))
	stB, err := store.GetState("globex")
	require.NoError(t, err)
	assert.Equal(t, ReadinessNeverBuilt, stB.Readiness)
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	src := writeSourceConfig(t, testConfigYAML)

	ids, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"zeta", "acme", "globex"} {
		_, err := store.Create(id, src)
		require.NoError(t, err)
	}

	ids, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex", "zeta"}, ids)
}

func TestGetStateCorrupt(t *testing.T) {
	store := newTestStore(t)
	src := writeSourceConfig(t, testConfigYAML)
	_, err := store.Create("acme", src)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.StatePath("acme"), []byte("{not json"), 0o644))
	_, err = store.GetState("acme")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStateCorrupt))
}
