package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
)

// StaticEmbedder generates deterministic hash-based embeddings with no
// network or model dependency. Semantic quality is reduced; keyword search
// carries most of the weight when this embedder is active.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// docStopWords are high-frequency English words that add no signal for
// documentation retrieval.
var docStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "for": true,
	"is": true, "are": true, "was": true, "be": true, "with": true,
	"this": true, "that": true, "it": true, "as": true, "at": true,
	"by": true, "from": true, "you": true, "your": true, "can": true,
}

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates an embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// generateVector buckets tokens (weight 0.7) and character trigrams
// (weight 0.3) into a fixed-size vector.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range tokenize(text) {
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	normalized := strings.ToLower(text)
	for i := 0; i+ngramSize <= len(normalized); i++ {
		ngram := normalized[i : i+ngramSize]
		if strings.TrimSpace(ngram) != ngram {
			continue
		}
		vector[hashToIndex(ngram, StaticDimensions)] += ngramWeight
	}

	return vector
}

// tokenize splits text into lowercase word tokens minus stop words.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if lower == "" || docStopWords[lower] {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}

// hashToIndex hashes a string into a vector bucket.
func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available always returns true; the static embedder has no dependencies.
func (e *StaticEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
