package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	ctx := context.Background()
	a, err := e.Embed(ctx, "how do I reset my password")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "how do I reset my password")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, StaticDimensions)
}

func TestStaticEmbedderNormalized(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "password reset instructions")
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 0.001)
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, StaticDimensions), vec)
}

func TestStaticEmbedderSimilarTextsCloser(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	ctx := context.Background()
	reset1, err := e.Embed(ctx, "reset your password in account settings")
	require.NoError(t, err)
	reset2, err := e.Embed(ctx, "password reset from the settings page")
	require.NoError(t, err)
	unrelated, err := e.Embed(ctx, "quarterly revenue projections spreadsheet")
	require.NoError(t, err)

	assert.Greater(t, cosine(reset1, reset2), cosine(reset1, unrelated))
}

func TestStaticEmbedderBatch(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.NotEqual(t, vecs[0], vecs[1])
	assert.Equal(t, make([]float32, StaticDimensions), vecs[2])
}

func TestStaticEmbedderClosed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
