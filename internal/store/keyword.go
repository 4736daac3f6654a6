package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BleveIndex wraps Bleve v2 for BM25 keyword search over page text.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ KeywordIndex = (*BleveIndex)(nil)

// bleveDocument is what gets indexed per chunk. Title is indexed alongside
// content so page names are directly searchable.
type bleveDocument struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

// validateIndexIntegrity checks a Bleve index directory before opening.
// Returns nil if the index is absent or looks valid.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveIndex opens or creates a keyword index at path. An empty path
// creates an in-memory index. A corrupted on-disk index is cleared and
// recreated rather than failing the open; the caller reindexes afterwards.
func NewBleveIndex(path string) (*BleveIndex, error) {
	indexMapping := createIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("keyword_index_cleared", slog.String("path", path))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("keyword_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			slog.Info("keyword_index_cleared", slog.String("path", path))
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveIndex{index: idx, path: path}, nil
}

func createIndexMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = standard.Name

	docMapping := bleve.NewDocumentMapping()
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", contentField)
	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", titleField)
	indexMapping.DefaultMapping = docMapping

	return indexMapping
}

// Index adds documents to the index in a single batch.
func (b *BleveIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		bd := bleveDocument{Content: doc.Content, Title: doc.Title}
		if err := batch.Index(doc.ID, bd); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns documents matching the query, scored by BM25.
func (b *BleveIndex) Search(ctx context.Context, queryStr string, limit int) ([]*KeywordResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*KeywordResult{}, nil
	}

	contentQuery := bleve.NewMatchQuery(queryStr)
	contentQuery.SetField("content")
	titleQuery := bleve.NewMatchQuery(queryStr)
	titleQuery.SetField("title")
	query := bleve.NewDisjunctionQuery(contentQuery, titleQuery)

	searchRequest := bleve.NewSearchRequest(query)
	searchRequest.Size = limit

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*KeywordResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &KeywordResult{
			DocID: hit.ID,
			Score: hit.Score,
		})
	}
	return results, nil
}

// Delete removes documents from the index.
func (b *BleveIndex) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (b *BleveIndex) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("index is closed")
	}
	count, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// Close closes the underlying Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
