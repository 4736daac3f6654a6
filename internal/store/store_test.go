package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confrag/confrag/internal/chunk"
	"github.com/confrag/confrag/internal/embed"
)

func TestHNSWStore_AddAndSearch(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(3))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	err = s.Add(ctx,
		[]string{"a", "b", "c"},
		[][]float32{
			{1, 0, 0},
			{0, 1, 0},
			{0.9, 0.1, 0},
		})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Count())

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(3))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	err = s.Add(ctx, []string{"a"}, [][]float32{{1, 0}})
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})

	_, err = s.Search(ctx, []float32{1, 0}, 1)
	require.Error(t, err)
}

func TestHNSWStore_DeleteIsLazy(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(2))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Delete(ctx, []string{"a"}))

	assert.Equal(t, 1, s.Count())

	results, err := s.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestHNSWStore_SaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, VectorFileName)
	ctx := context.Background()

	s, err := NewHNSWStore(DefaultVectorStoreConfig(2))
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, []string{"x", "y"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Save(path))
	require.NoError(t, s.Close())

	loaded, err := NewHNSWStore(DefaultVectorStoreConfig(2))
	require.NoError(t, err)
	defer loaded.Close()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 2, loaded.Count())
	results, err := loaded.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "y", results[0].ID)
}

func TestBleveIndex_IndexAndSearch(t *testing.T) {
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	docs := []*Document{
		{ID: "d1", Title: "Deployment Guide", Content: "How to deploy the billing service to production."},
		{ID: "d2", Title: "Onboarding", Content: "Welcome to the engineering team."},
		{ID: "d3", Title: "Billing FAQ", Content: "Common questions about invoices and billing cycles."},
	}
	require.NoError(t, idx.Index(ctx, docs))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	results, err := idx.Search(ctx, "billing", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.DocID)
	}
	assert.Contains(t, ids, "d1")
	assert.Contains(t, ids, "d3")
	assert.NotContains(t, ids, "d2")
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	defer idx.Close()

	results, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveIndex_Delete(t *testing.T) {
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "d1", Content: "kubernetes cluster upgrade"},
	}))
	require.NoError(t, idx.Delete(ctx, []string{"d1"}))

	results, err := idx.Search(ctx, "kubernetes", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteDocStore_SaveAndGet(t *testing.T) {
	ds, err := NewSQLiteDocStore(filepath.Join(t.TempDir(), DocStoreFileName))
	require.NoError(t, err)
	defer ds.Close()

	ctx := context.Background()
	docs := []*Document{
		{
			ID:       "c1",
			PagePath: "PROD/runbook.md",
			SpaceKey: "PROD",
			Title:    "Runbook",
			Content:  "Restart the service with systemctl.",
			Metadata: map[string]string{"header_path": "Runbook > Restarts"},
		},
		{
			ID:       "c2",
			ParentID: "p1",
			PagePath: "PROD/runbook.md",
			SpaceKey: "PROD",
			Title:    "Runbook",
			Content:  "Check the logs first.",
		},
	}
	require.NoError(t, ds.SaveDocuments(ctx, docs))

	got, err := ds.GetDocument(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Runbook", got.Title)
	assert.Equal(t, "Runbook > Restarts", got.Metadata["header_path"])
	assert.Empty(t, got.ParentID)

	got2, err := ds.GetDocument(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "p1", got2.ParentID)

	_, err = ds.GetDocument(ctx, "missing")
	require.Error(t, err)
}

func TestSQLiteDocStore_GetDocumentsPreservesOrderSkipsMissing(t *testing.T) {
	ds, err := NewSQLiteDocStore(filepath.Join(t.TempDir(), DocStoreFileName))
	require.NoError(t, err)
	defer ds.Close()

	ctx := context.Background()
	require.NoError(t, ds.SaveDocuments(ctx, []*Document{
		{ID: "a", PagePath: "p", SpaceKey: "S", Title: "t", Content: "x"},
		{ID: "b", PagePath: "p", SpaceKey: "S", Title: "t", Content: "y"},
	}))

	docs, err := ds.GetDocuments(ctx, []string{"b", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, "a", docs[1].ID)
}

func TestSQLiteDocStore_Counts(t *testing.T) {
	ds, err := NewSQLiteDocStore(filepath.Join(t.TempDir(), DocStoreFileName))
	require.NoError(t, err)
	defer ds.Close()

	ctx := context.Background()
	require.NoError(t, ds.SaveDocuments(ctx, []*Document{
		{ID: "a", PagePath: "PROD/one.md", SpaceKey: "PROD", Title: "One", Content: "x"},
		{ID: "b", PagePath: "PROD/one.md", SpaceKey: "PROD", Title: "One", Content: "y"},
		{ID: "c", PagePath: "ENG/two.md", SpaceKey: "ENG", Title: "Two", Content: "z"},
	}))

	docCount, err := ds.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, docCount)

	pageCount, err := ds.CountPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pageCount)
}

func TestSQLiteDocStore_Meta(t *testing.T) {
	ds, err := NewSQLiteDocStore(filepath.Join(t.TempDir(), DocStoreFileName))
	require.NoError(t, err)
	defer ds.Close()

	ctx := context.Background()

	val, err := ds.GetMeta(ctx, MetaKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, ds.SetMeta(ctx, MetaKeyEmbeddingModel, "static"))
	require.NoError(t, ds.SetMeta(ctx, MetaKeyEmbeddingModel, "nomic-embed-text"))

	val, err = ds.GetMeta(ctx, MetaKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", val)
}

func TestRRFFusion_BothSources(t *testing.T) {
	fusion := NewRRFFusion(0)
	assert.Equal(t, DefaultRRFConstant, fusion.K)

	keyword := []*KeywordResult{
		{DocID: "a", Score: 2.5},
		{DocID: "b", Score: 1.0},
	}
	vector := []*VectorResult{
		{ID: "a", Score: 0.95},
		{ID: "c", Score: 0.80},
	}

	results := fusion.Fuse(keyword, vector, DefaultWeights())
	require.Len(t, results, 3)

	// "a" is the only document in both lists and ranks first.
	assert.Equal(t, "a", results[0].DocID)
	assert.True(t, results[0].InBothLists)
	assert.InDelta(t, 1.0, results[0].RRFScore, 1e-9)

	for _, r := range results[1:] {
		assert.False(t, r.InBothLists)
		assert.Less(t, r.RRFScore, results[0].RRFScore)
	}
}

func TestRRFFusion_EmptyInputs(t *testing.T) {
	fusion := NewRRFFusion(60)
	results := fusion.Fuse(nil, nil, DefaultWeights())
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRRFFusion_SingleSourceUsesMissingRank(t *testing.T) {
	fusion := NewRRFFusion(60)
	keyword := []*KeywordResult{{DocID: "only", Score: 3.0}}

	results := fusion.Fuse(keyword, nil, DefaultWeights())
	require.Len(t, results, 1)

	// Keyword contribution at rank 1 plus vector contribution at
	// missing_rank 2, normalized to 1.0 as the sole result.
	assert.Equal(t, "only", results[0].DocID)
	assert.InDelta(t, 1.0, results[0].RRFScore, 1e-9)
	assert.Equal(t, 1, results[0].KeywordRank)
	assert.Equal(t, 0, results[0].VectorRank)
}

func TestRRFFusion_DeterministicTieBreak(t *testing.T) {
	fusion := NewRRFFusion(60)
	vector := []*VectorResult{
		{ID: "zeta", Score: 0.5},
		{ID: "alpha", Score: 0.5},
	}
	// Equal RRF contribution requires equal ranks, which cannot happen in
	// one list, so tie-break via identical setups in separate fusions.
	weights := Weights{Keyword: 0.0, Vector: 1.0}

	first := fusion.Fuse(nil, vector, weights)
	second := fusion.Fuse(nil, vector, weights)
	require.Len(t, first, 2)
	assert.Equal(t, first[0].DocID, second[0].DocID)
	assert.Equal(t, first[1].DocID, second[1].DocID)
}

func buildTestChunks(t *testing.T, strategy string) []*chunk.Chunk {
	t.Helper()
	page := &chunk.Page{
		Path:     "PROD/deploy.md",
		SpaceKey: "PROD",
		Title:    "Deploy Guide",
		Content: []byte(`# Deploy Guide

## Rollout

Deployments to production run through the rollout pipeline. Start a rollout
with the release command and watch the dashboard for errors.

## Rollback

If error rates spike after a rollout, trigger a rollback immediately. The
rollback command restores the previous release within two minutes.
`),
	}

	var chunker chunk.Chunker
	if strategy == StrategyParentDocument {
		chunker = chunk.NewParentDocumentChunker(chunk.DefaultMaxChunkTokens, chunk.DefaultParentTokens)
	} else {
		chunker = chunk.NewMarkdownChunker(chunk.DefaultMaxChunkTokens)
	}
	chunks, err := chunker.Chunk(context.Background(), page)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	return chunks
}

func TestBuildAndSearch_SimpleStrategy(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	embedder := embed.NewStaticEmbedder()
	chunks := buildTestChunks(t, StrategySimple)

	stats, err := Build(ctx, dir, "tenant_acme_documents", chunks, embedder, StrategySimple)
	require.NoError(t, err)
	assert.Equal(t, len(chunks), stats.Documents)
	assert.Equal(t, len(chunks), stats.Indexed)
	assert.Equal(t, 1, stats.Pages)

	searcher, err := Open(ctx, dir, embedder, OpenOptions{})
	require.NoError(t, err)
	defer searcher.Close()

	hits, err := searcher.Search(ctx, "how do I rollback a bad release", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.LessOrEqual(t, len(hits), 3)

	found := false
	for _, h := range hits {
		if h.Document.Metadata["section_title"] == "Rollback" {
			found = true
		}
		assert.Equal(t, "PROD", h.Document.SpaceKey)
		assert.Greater(t, h.Score, 0.0)
	}
	assert.True(t, found, "expected the rollback section among hits")
}

func TestBuildAndSearch_ParentDocumentStrategy(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	embedder := embed.NewStaticEmbedder()
	chunks := buildTestChunks(t, StrategyParentDocument)

	children := chunk.Children(chunks)
	require.NotEmpty(t, children)

	stats, err := Build(ctx, dir, "tenant_acme_documents", chunks, embedder, StrategyParentDocument)
	require.NoError(t, err)
	assert.Equal(t, len(chunks), stats.Documents)
	assert.Equal(t, len(children), stats.Indexed)

	searcher, err := Open(ctx, dir, embedder, OpenOptions{})
	require.NoError(t, err)
	defer searcher.Close()

	hits, err := searcher.Search(ctx, "rollout pipeline", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	// Child hits resolve to their parent chunks, deduplicated.
	seen := map[string]bool{}
	for _, h := range hits {
		assert.Equal(t, "parent", h.Document.Metadata["role"])
		assert.False(t, seen[h.Document.ID], "parent %s returned twice", h.Document.ID)
		seen[h.Document.ID] = true
	}
}

func TestOpen_RejectsEmbeddingModelMismatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	embedder := embed.NewStaticEmbedder()
	chunks := buildTestChunks(t, StrategySimple)

	_, err := Build(ctx, dir, "tenant_acme_documents", chunks, embedder, StrategySimple)
	require.NoError(t, err)

	ds, err := NewSQLiteDocStore(filepath.Join(dir, DocStoreFileName))
	require.NoError(t, err)
	require.NoError(t, ds.SetMeta(ctx, MetaKeyEmbeddingModel, "some-other-model"))
	require.NoError(t, ds.Close())

	_, err = Open(ctx, dir, embedder, OpenOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebuild the index")
}

func TestBuild_ReplacesExistingIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	embedder := embed.NewStaticEmbedder()
	chunks := buildTestChunks(t, StrategySimple)

	_, err := Build(ctx, dir, "tenant_acme_documents", chunks, embedder, StrategySimple)
	require.NoError(t, err)

	// Rebuild with a single chunk; stale documents must not survive.
	_, err = Build(ctx, dir, "tenant_acme_documents", chunks[:1], embedder, StrategySimple)
	require.NoError(t, err)

	searcher, err := Open(ctx, dir, embedder, OpenOptions{})
	require.NoError(t, err)
	defer searcher.Close()

	docsCount, _, err := searcher.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docsCount)
}

func TestSearcher_TopKZero(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	embedder := embed.NewStaticEmbedder()
	chunks := buildTestChunks(t, StrategySimple)

	_, err := Build(ctx, dir, "tenant_acme_documents", chunks, embedder, StrategySimple)
	require.NoError(t, err)

	searcher, err := Open(ctx, dir, embedder, OpenOptions{})
	require.NoError(t, err)
	defer searcher.Close()

	hits, err := searcher.Search(ctx, "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDocumentFromChunk(t *testing.T) {
	c := &chunk.Chunk{
		ID:        "abc123",
		ParentID:  "parent1",
		PagePath:  "ENG/notes.md",
		SpaceKey:  "ENG",
		PageTitle: "Notes",
		Content:   "body",
		Metadata:  map[string]string{"role": "child"},
	}
	d := documentFromChunk(c)
	assert.Equal(t, c.ID, d.ID)
	assert.Equal(t, c.ParentID, d.ParentID)
	assert.Equal(t, c.PageTitle, d.Title)
	assert.Equal(t, "child", d.Metadata["role"])

	// Metadata is copied, not aliased.
	d.Metadata["role"] = "parent"
	assert.Equal(t, "child", c.Metadata["role"])
}
