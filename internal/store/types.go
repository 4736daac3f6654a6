// Package store is the retrieval backend: vector search (HNSW), keyword
// search (Bleve BM25), a SQLite document store, and RRF fusion over the two
// rankings. One collection directory holds one tenant's index files.
package store

import (
	"context"
	"fmt"
)

// Index file names within a collection directory.
const (
	VectorFileName   = "vectors.hnsw"
	KeywordDirName   = "bm25.bleve"
	DocStoreFileName = "docs.db"
)

// Metadata keys persisted in the document store.
const (
	MetaKeyEmbeddingModel = "embedding_model"
	MetaKeyDimensions     = "embedding_dimensions"
	MetaKeyStrategy       = "chunking_strategy"
	MetaKeyCollection     = "collection_name"
)

// Document is the unit persisted and retrieved by the backend.
type Document struct {
	ID       string            `json:"id"`
	ParentID string            `json:"parent_id,omitempty"`
	PagePath string            `json:"page_path"`
	SpaceKey string            `json:"space_key"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Hit is one fused search result.
type Hit struct {
	Document *Document
	Score    float64
}

// VectorResult is a single vector search result.
type VectorResult struct {
	ID       string
	Distance float32 // lower is more similar
	Score    float32 // normalized similarity, 0-1
}

// KeywordResult is a single BM25 search result.
type KeywordResult struct {
	DocID string
	Score float64
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	Dimensions int

	// Metric is "cos" or "l2".
	Metric string

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides approximate nearest-neighbor search.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// KeywordIndex provides BM25 keyword search.
type KeywordIndex interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids []string) error
	Count() (uint64, error)
	Close() error
}

// DocStore persists the full documents a search hit resolves to.
type DocStore interface {
	SaveDocuments(ctx context.Context, docs []*Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocuments(ctx context.Context, ids []string) ([]*Document, error)
	CountDocuments(ctx context.Context) (int, error)
	CountPages(ctx context.Context) (int, error)

	// GetMeta / SetMeta are a small key-value area for index metadata
	// (embedding model, dimensions, strategy).
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}

// ErrDimensionMismatch indicates a query or stored vector does not match the
// collection's embedding dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild the index)", e.Expected, e.Got)
}
