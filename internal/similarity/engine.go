// Package similarity is the reusable nearest-neighbor primitive shared by
// the memory facade and the knowledge base. It holds no state and builds no
// index: O(n*d) per query is appropriate for the expected corpus sizes of
// hundreds to low thousands of items per conversation.
package similarity

import (
	"math"
	"sort"

	"github.com/loomchat/loom-memory/internal/domain"
)

// Candidate pairs an identifier and vector with an opaque payload carried
// through to the match.
type Candidate struct {
	ID      string
	Vector  []float32
	Payload any
}

// Match is a ranked retrieval result.
type Match struct {
	ID      string
	Score   float64
	Payload any
}

// Cosine computes cosine similarity between two vectors of equal length.
// A zero magnitude on either side yields 0.
func Cosine(a, b []float32) (float64, error) {
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

// Rank scores every candidate against the query, drops scores below
// minSimilarity, sorts descending and truncates to topK. Candidates with a
// nil vector are skipped. The sort is stable so ties keep input order.
func Rank(query []float32, candidates []Candidate, topK int, minSimilarity float64) ([]Match, error) {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if c.Vector == nil {
			continue
		}
		score, err := Cosine(query, c.Vector)
		if err != nil {
			return nil, err
		}
		if score < minSimilarity {
			continue
		}
		matches = append(matches, Match{ID: c.ID, Score: score, Payload: c.Payload})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
