package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore on the pure-Go coder/hnsw graph.
//
// String document ids are mapped to monotonically increasing uint64 graph
// keys. Deletion is lazy: the mapping entry is dropped but the node stays in
// the graph, because removing the last node breaks coder/hnsw. Fresh
// rebuilds (the only write path here) never accumulate enough orphans to
// matter.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// hnswMetadata is the gob-persisted sidecar holding the id mappings.
type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore creates an empty vector store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Add inserts vectors with their ids. An existing id is replaced.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			// Lazy delete: orphan the old node.
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}

	return nil
}

// Search finds the k nearest neighbors to the query vector.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.Metric == "cos" {
		normalizeInPlace(q)
	}

	nodes := s.graph.Search(q, k)
	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			// Orphaned by lazy deletion.
			continue
		}
		distance := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}
	return results, nil
}

// Delete lazily removes vectors by id.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Save persists the graph and id mappings atomically (temp file + rename).
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and id mappings from disk.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func (s *HNSWStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	s.nextKey = meta.NextKey
	s.config = meta.Config
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts a distance to a 0-1 similarity score.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		// Cosine distance ranges 0 (identical) to 2 (opposite).
		return 1.0 - distance/2.0
	}
}
