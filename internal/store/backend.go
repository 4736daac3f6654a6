package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/confrag/confrag/internal/chunk"
	"github.com/confrag/confrag/internal/embed"
	"github.com/confrag/confrag/internal/errors"
)

// StrategySimple indexes every chunk directly. StrategyParentDocument embeds
// small child chunks for precise matching but returns their enclosing parent
// chunks at query time for fuller context.
const (
	StrategySimple         = "simple"
	StrategyParentDocument = "parent_document"
)

// BuildStats summarizes a completed index build.
type BuildStats struct {
	Documents int // chunks persisted to the doc store
	Indexed   int // chunks embedded and keyword-indexed
	Pages     int
}

// Build writes a fresh index for a collection into dir, replacing whatever
// was there. All chunks land in the doc store; only searchable chunks (all of
// them for simple, role=child for parent_document) are embedded and
// keyword-indexed. Index metadata (model, dimensions, strategy, collection)
// is recorded so Open can verify compatibility.
func Build(ctx context.Context, dir, collection string, chunks []*chunk.Chunk, embedder embed.Embedder, strategy string) (*BuildStats, error) {
	if strategy == "" {
		strategy = StrategySimple
	}
	if err := clearIndexFiles(dir); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBuildFailed, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBuildFailed, err)
	}

	docs := make([]*Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, documentFromChunk(c))
	}
	searchable := searchableDocuments(docs, strategy)

	docStore, err := NewSQLiteDocStore(filepath.Join(dir, DocStoreFileName))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBuildFailed, err)
	}
	defer func() { _ = docStore.Close() }()

	if err := docStore.SaveDocuments(ctx, docs); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBuildFailed, err)
	}

	keyword, err := NewBleveIndex(filepath.Join(dir, KeywordDirName))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBuildFailed, err)
	}
	defer func() { _ = keyword.Close() }()

	if err := keyword.Index(ctx, searchable); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBuildFailed, err)
	}

	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBuildFailed, err)
	}
	defer func() { _ = vectors.Close() }()

	if err := embedDocuments(ctx, vectors, embedder, searchable); err != nil {
		return nil, err
	}
	if err := vectors.Save(filepath.Join(dir, VectorFileName)); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBuildFailed, err)
	}

	meta := map[string]string{
		MetaKeyEmbeddingModel: embedder.ModelName(),
		MetaKeyDimensions:     strconv.Itoa(embedder.Dimensions()),
		MetaKeyStrategy:       strategy,
		MetaKeyCollection:     collection,
	}
	for k, v := range meta {
		if err := docStore.SetMeta(ctx, k, v); err != nil {
			return nil, errors.Wrap(errors.ErrCodeBuildFailed, err)
		}
	}

	pages, err := docStore.CountPages(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBuildFailed, err)
	}

	slog.Info("index_built",
		slog.String("collection", collection),
		slog.String("strategy", strategy),
		slog.Int("documents", len(docs)),
		slog.Int("indexed", len(searchable)),
		slog.Int("pages", pages))

	return &BuildStats{Documents: len(docs), Indexed: len(searchable), Pages: pages}, nil
}

func embedDocuments(ctx context.Context, vectors *HNSWStore, embedder embed.Embedder, docs []*Document) error {
	batchSize := embed.DefaultBatchSize
	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))
		batch := docs[start:end]

		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
			ids[i] = d.ID
		}

		embeddings, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
		}
		if err := vectors.Add(ctx, ids, embeddings); err != nil {
			return errors.Wrap(errors.ErrCodeBuildFailed, err)
		}
	}
	return nil
}

func documentFromChunk(c *chunk.Chunk) *Document {
	meta := make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		meta[k] = v
	}
	return &Document{
		ID:       c.ID,
		ParentID: c.ParentID,
		PagePath: c.PagePath,
		SpaceKey: c.SpaceKey,
		Title:    c.PageTitle,
		Content:  c.Content,
		Metadata: meta,
	}
}

func searchableDocuments(docs []*Document, strategy string) []*Document {
	if strategy != StrategyParentDocument {
		return docs
	}
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if d.Metadata["role"] == "parent" {
			continue
		}
		out = append(out, d)
	}
	return out
}

func clearIndexFiles(dir string) error {
	targets := []string{
		filepath.Join(dir, VectorFileName),
		filepath.Join(dir, VectorFileName+".meta"),
		filepath.Join(dir, KeywordDirName),
		filepath.Join(dir, DocStoreFileName),
	}
	for _, t := range targets {
		if err := os.RemoveAll(t); err != nil {
			return fmt.Errorf("failed to clear %s: %w", t, err)
		}
	}
	return nil
}

// Searcher serves hybrid queries against a built index.
type Searcher struct {
	vectors  *HNSWStore
	keyword  *BleveIndex
	docs     *SQLiteDocStore
	embedder embed.Embedder
	fusion   *RRFFusion
	weights  Weights
	strategy string
}

// OpenOptions tune how an index is opened for search.
type OpenOptions struct {
	Weights     Weights
	RRFConstant int
}

// Open loads a built index from dir for querying. The embedder must produce
// vectors in the same space the index was built with; a model mismatch is an
// error because mixed vector spaces silently degrade retrieval.
func Open(ctx context.Context, dir string, embedder embed.Embedder, opts OpenOptions) (*Searcher, error) {
	docStore, err := NewSQLiteDocStore(filepath.Join(dir, DocStoreFileName))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}

	storedModel, err := docStore.GetMeta(ctx, MetaKeyEmbeddingModel)
	if err != nil {
		_ = docStore.Close()
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	if storedModel != "" && storedModel != embedder.ModelName() {
		_ = docStore.Close()
		return nil, errors.BackendFailure(fmt.Sprintf("index built with embedding model %q but embedder is %q; rebuild the index", storedModel, embedder.ModelName()), nil)
	}
	strategy, err := docStore.GetMeta(ctx, MetaKeyStrategy)
	if err != nil {
		_ = docStore.Close()
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	if strategy == "" {
		strategy = StrategySimple
	}

	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		_ = docStore.Close()
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	if err := vectors.Load(filepath.Join(dir, VectorFileName)); err != nil {
		_ = docStore.Close()
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}

	keyword, err := NewBleveIndex(filepath.Join(dir, KeywordDirName))
	if err != nil {
		_ = vectors.Close()
		_ = docStore.Close()
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}

	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}

	return &Searcher{
		vectors:  vectors,
		keyword:  keyword,
		docs:     docStore,
		embedder: embedder,
		fusion:   NewRRFFusion(opts.RRFConstant),
		weights:  opts.Weights,
		strategy: strategy,
	}, nil
}

// candidateMultiplier oversamples each source so fusion has enough overlap
// to rank from before cutting to topK.
const candidateMultiplier = 3

// Search runs keyword and vector retrieval in parallel, fuses the rankings,
// and resolves the top documents. Under the parent_document strategy, child
// hits are expanded to their parent chunks, deduplicated, keeping the best
// child score per parent.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]*Hit, error) {
	if topK <= 0 {
		return []*Hit{}, nil
	}
	candidates := topK * candidateMultiplier

	var keywordResults []*KeywordResult
	var vectorResults []*VectorResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := s.keyword.Search(gctx, query, candidates)
		if err != nil {
			return errors.Wrap(errors.ErrCodeSearchFailed, err)
		}
		keywordResults = results
		return nil
	})
	g.Go(func() error {
		vec, err := s.embedder.Embed(gctx, query)
		if err != nil {
			return errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
		}
		results, err := s.vectors.Search(gctx, vec, candidates)
		if err != nil {
			return errors.Wrap(errors.ErrCodeSearchFailed, err)
		}
		vectorResults = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := s.fusion.Fuse(keywordResults, vectorResults, s.weights)

	if s.strategy == StrategyParentDocument {
		return s.resolveParents(ctx, fused, topK)
	}
	return s.resolveDirect(ctx, fused, topK)
}

func (s *Searcher) resolveDirect(ctx context.Context, fused []*FusedResult, topK int) ([]*Hit, error) {
	hits := make([]*Hit, 0, topK)
	for _, r := range fused {
		if len(hits) >= topK {
			break
		}
		doc, err := s.docs.GetDocument(ctx, r.DocID)
		if err != nil {
			// The doc store is rebuilt with the indexes, so a miss means a
			// partial write; skip rather than fail the whole query.
			slog.Warn("search_document_missing", slog.String("doc_id", r.DocID))
			continue
		}
		hits = append(hits, &Hit{Document: doc, Score: r.RRFScore})
	}
	return hits, nil
}

func (s *Searcher) resolveParents(ctx context.Context, fused []*FusedResult, topK int) ([]*Hit, error) {
	hits := make([]*Hit, 0, topK)
	seen := make(map[string]bool)
	for _, r := range fused {
		if len(hits) >= topK {
			break
		}
		doc, err := s.docs.GetDocument(ctx, r.DocID)
		if err != nil {
			slog.Warn("search_document_missing", slog.String("doc_id", r.DocID))
			continue
		}
		resolved := doc
		if doc.ParentID != "" {
			parent, err := s.docs.GetDocument(ctx, doc.ParentID)
			if err == nil {
				resolved = parent
			}
		}
		if seen[resolved.ID] {
			continue
		}
		seen[resolved.ID] = true
		hits = append(hits, &Hit{Document: resolved, Score: r.RRFScore})
	}
	return hits, nil
}

// Stats reports document and page counts for status output.
func (s *Searcher) Stats(ctx context.Context) (documents, pages int, err error) {
	documents, err = s.docs.CountDocuments(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	pages, err = s.docs.CountPages(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	return documents, pages, nil
}

// Meta returns a stored index metadata value.
func (s *Searcher) Meta(ctx context.Context, key string) (string, error) {
	return s.docs.GetMeta(ctx, key)
}

// Close releases all underlying stores.
func (s *Searcher) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{s.keyword, s.vectors, s.docs} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
