package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/loomchat/loom-memory/internal/domain"
)

// LocalModel is the process-wide default embedding backend: a feature-hashing
// bag-of-words model with a fixed 384-dim output. It is fully deterministic,
// needs no network access, and places texts sharing vocabulary near each
// other, which is enough signal for conversation-scale corpora.
//
// Initialization is lazy and idempotent: the first caller builds the model
// tables, concurrent callers await the same readiness.
type LocalModel struct {
	dimensions int

	initOnce sync.Once
	ready    bool
}

// NewLocalModel creates a LocalModel with the fixed output dimension.
func NewLocalModel() *LocalModel {
	return &LocalModel{dimensions: domain.EmbeddingDimensions}
}

// Initialize loads the model. Safe to call multiple times concurrently;
// only one underlying load occurs.
func (m *LocalModel) Initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		// Nothing heavyweight to load for the hashing model, but the
		// readiness gate keeps the contract identical to backends that do.
		m.ready = true
	})
	return nil
}

// Dimensions returns the fixed output dimension.
func (m *LocalModel) Dimensions() int {
	return m.dimensions
}

// GenerateEmbedding embeds a single text as a unit vector.
func (m *LocalModel) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyText
	}
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	tokens := strings.Fields(normalizeText(text))
	v := make([]float32, m.dimensions)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(m.dimensions))
		// Second hash bit picks the sign so colliding tokens tend to
		// cancel instead of stacking.
		sign := float32(1)
		if (sum>>32)&1 == 1 {
			sign = -1
		}
		v[idx] += sign
	}
	return l2Normalize(v), nil
}

// GenerateEmbeddings embeds texts in sequential sub-batches of BatchSize.
func (m *LocalModel) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += BatchSize {
		end := start + BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		for _, text := range texts[start:end] {
			vec, err := m.GenerateEmbedding(ctx, text)
			if err != nil {
				return nil, err
			}
			out = append(out, vec)
		}
	}
	return out, nil
}
