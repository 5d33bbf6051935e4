package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestLocalModel_GenerateEmbedding(t *testing.T) {
	ctx := context.Background()
	model := NewLocalModel()
	require.NoError(t, model.Initialize(ctx))

	t.Run("output has fixed dimensions and unit norm", func(t *testing.T) {
		vec, err := model.GenerateEmbedding(ctx, "the quick brown fox")
		require.NoError(t, err)
		assert.Len(t, vec, domain.EmbeddingDimensions)
		assert.InDelta(t, 1.0, vectorNorm(vec), 1e-5)
	})

	t.Run("deterministic for identical input", func(t *testing.T) {
		a, err := model.GenerateEmbedding(ctx, "machine learning")
		require.NoError(t, err)
		b, err := model.GenerateEmbedding(ctx, "machine learning")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("case and punctuation insensitive", func(t *testing.T) {
		a, err := model.GenerateEmbedding(ctx, "Machine Learning!")
		require.NoError(t, err)
		b, err := model.GenerateEmbedding(ctx, "machine learning")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("empty text returns error", func(t *testing.T) {
		_, err := model.GenerateEmbedding(ctx, "   ")
		assert.ErrorIs(t, err, domain.ErrEmptyText)
	})

	t.Run("shared vocabulary scores above disjoint vocabulary", func(t *testing.T) {
		base, err := model.GenerateEmbedding(ctx, "neural networks and machine learning")
		require.NoError(t, err)
		related, err := model.GenerateEmbedding(ctx, "machine learning with neural models")
		require.NoError(t, err)
		unrelated, err := model.GenerateEmbedding(ctx, "pasta recipe with tomato sauce")
		require.NoError(t, err)

		simRelated, err := CosineSimilarity(base, related)
		require.NoError(t, err)
		simUnrelated, err := CosineSimilarity(base, unrelated)
		require.NoError(t, err)
		assert.Greater(t, simRelated, simUnrelated)
	})
}

func TestLocalModel_GenerateEmbeddings(t *testing.T) {
	ctx := context.Background()
	model := NewLocalModel()

	t.Run("embeds more texts than one batch", func(t *testing.T) {
		texts := make([]string, BatchSize+3)
		for i := range texts {
			texts[i] = "sample text number " + string(rune('a'+i))
		}
		vecs, err := model.GenerateEmbeddings(ctx, texts)
		require.NoError(t, err)
		require.Len(t, vecs, len(texts))
		for _, v := range vecs {
			assert.Len(t, v, domain.EmbeddingDimensions)
		}
	})

	t.Run("propagates per-text failure", func(t *testing.T) {
		_, err := model.GenerateEmbeddings(ctx, []string{"ok", ""})
		assert.ErrorIs(t, err, domain.ErrEmptyText)
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		vecs, err := model.GenerateEmbeddings(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, vecs)
	})
}

func TestCosineSimilarity(t *testing.T) {
	t.Run("bounded in [-1,1] for unit vectors", func(t *testing.T) {
		ctx := context.Background()
		model := NewLocalModel()
		a, err := model.GenerateEmbedding(ctx, "alpha beta gamma")
		require.NoError(t, err)
		b, err := model.GenerateEmbedding(ctx, "delta epsilon zeta")
		require.NoError(t, err)

		sim, err := CosineSimilarity(a, b)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sim, -1.0)
		assert.LessOrEqual(t, sim, 1.0)
	})

	t.Run("dimension mismatch returns error", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})
}
