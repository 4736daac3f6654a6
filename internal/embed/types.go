// Package embed generates vector embeddings for chunk content.
//
// The Ollama embedder is the default; the static hash embedder is the
// offline fallback and the workhorse for tests.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultWarmTimeout is the per-request timeout when the model is
	// already loaded.
	DefaultWarmTimeout = 120 * time.Second

	// DefaultColdTimeout is the per-request timeout for the first call,
	// when Ollama may still need to load the model.
	DefaultColdTimeout = 180 * time.Second

	// ModelUnloadThreshold is how long Ollama keeps an idle model loaded;
	// past it the next call is treated as cold again.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// StaticDimensions is the embedding dimension of the static embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
