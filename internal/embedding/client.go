// Package embedding turns text into fixed-length unit vectors for semantic
// comparison. Two backends are provided: a deterministic local model that
// needs no network access, and an OpenAI-backed client constrained to the
// same output dimensions.
package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/similarity"
)

// BatchSize is the number of texts embedded per sub-batch. Batches are
// awaited sequentially to bound memory use.
const BatchSize = 10

// Client defines the interface for generating embeddings
type Client interface {
	// GenerateEmbedding embeds a single text. The returned vector is
	// L2-normalized and has exactly Dimensions() entries.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GenerateEmbeddings embeds texts in sequential sub-batches of BatchSize.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed output dimension of the backend.
	Dimensions() int
}

// CosineSimilarity computes cosine similarity between two vectors. Vectors
// of differing length are a programming error and fail immediately. A zero
// magnitude on either side yields 0 by definition, not an error.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, domain.ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// FindSimilar ranks candidates against the query vector, dropping anything
// below minSimilarity and truncating to topK. Ties keep input order.
func FindSimilar(query []float32, candidates []similarity.Candidate, topK int, minSimilarity float64) ([]similarity.Match, error) {
	return similarity.Rank(query, candidates, topK, minSimilarity)
}

// normalizeText lowercases, strips extraneous symbols and collapses
// whitespace before the text reaches the model.
func normalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// extraneous symbol, replace with a separator so tokens
			// split by punctuation stay distinct
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// l2Normalize scales the vector to unit Euclidean length in place. A zero
// vector is returned unchanged.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
