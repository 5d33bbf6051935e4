package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validFact() *MemoryFact {
	return &MemoryFact{
		ID:             "f-1",
		ConversationID: "conv-1",
		Content:        "the deploy runs nightly",
		Source:         "user",
		Timestamp:      time.Now().UTC(),
		RelevanceScore: 0.5,
	}
}

func TestValidateFact(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MemoryFact)
		wantErr error
		ok      bool
	}{
		{name: "valid", mutate: func(f *MemoryFact) {}, ok: true},
		{name: "missing id", mutate: func(f *MemoryFact) { f.ID = "" }},
		{name: "missing conversation", mutate: func(f *MemoryFact) { f.ConversationID = "" }},
		{name: "missing content", mutate: func(f *MemoryFact) { f.Content = "" }},
		{name: "relevance above one", mutate: func(f *MemoryFact) { f.RelevanceScore = 1.1 }, wantErr: ErrInvalidRelevanceScore},
		{name: "relevance below zero", mutate: func(f *MemoryFact) { f.RelevanceScore = -0.1 }, wantErr: ErrInvalidRelevanceScore},
		{name: "short embedding", mutate: func(f *MemoryFact) { f.Embedding = []float32{0.1, 0.2} }, wantErr: ErrInvalidEmbeddingLength},
		{name: "full embedding", mutate: func(f *MemoryFact) { f.Embedding = make([]float32, EmbeddingDimensions) }, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFact()
			tt.mutate(f)

			err := ValidateFact(f)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	t.Run("nil fact", func(t *testing.T) {
		assert.Error(t, ValidateFact(nil))
	})
}

func TestValidateSummary(t *testing.T) {
	now := time.Now().UTC()
	valid := func() *ConversationSummary {
		return &ConversationSummary{
			ID:             "s-1",
			ConversationID: "conv-1",
			Summary:        "we agreed on the release date",
			TimeRange:      TimeRange{Start: now.Add(-time.Hour), End: now},
			MessageCount:   4,
		}
	}

	assert.NoError(t, ValidateSummary(valid()))

	t.Run("inverted time range", func(t *testing.T) {
		s := valid()
		s.TimeRange = TimeRange{Start: now, End: now.Add(-time.Hour)}
		assert.ErrorIs(t, ValidateSummary(s), ErrInvalidTimeRange)
	})

	t.Run("negative message count", func(t *testing.T) {
		s := valid()
		s.MessageCount = -1
		assert.Error(t, ValidateSummary(s))
	})

	t.Run("missing summary text", func(t *testing.T) {
		s := valid()
		s.Summary = ""
		assert.Error(t, ValidateSummary(s))
	})
}

func TestValidateRelationship(t *testing.T) {
	valid := func() *EntityRelationship {
		return &EntityRelationship{
			ID:             "r-1",
			ConversationID: "conv-1",
			SourceEntity:   "Python",
			TargetEntity:   "language",
			Type:           RelationshipIsA,
			Confidence:     0.6,
		}
	}

	assert.NoError(t, ValidateRelationship(valid()))

	t.Run("missing entities", func(t *testing.T) {
		r := valid()
		r.TargetEntity = ""
		assert.Error(t, ValidateRelationship(r))
	})

	t.Run("confidence out of range", func(t *testing.T) {
		r := valid()
		r.Confidence = 1.2
		assert.ErrorIs(t, ValidateRelationship(r), ErrInvalidConfidence)
	})

	t.Run("missing type", func(t *testing.T) {
		r := valid()
		r.Type = ""
		assert.Error(t, ValidateRelationship(r))
	})
}

func TestCleanupResultTotal(t *testing.T) {
	r := CleanupResult{FactsDeleted: 3, SummariesDeleted: 1, RelationshipsDeleted: 2}
	assert.Equal(t, int64(6), r.Total())
}

func TestSalientText(t *testing.T) {
	fact := &MemoryFact{Content: "the deploy runs nightly"}
	assert.Equal(t, "the deploy runs nightly", FactSalientText(fact))

	summary := &ConversationSummary{Summary: "we agreed on the release date"}
	assert.Equal(t, "we agreed on the release date", SummarySalientText(summary))

	rel := &EntityRelationship{SourceEntity: "Python", Type: RelationshipIsA, TargetEntity: "language"}
	assert.Equal(t, "Python is_a language", RelationshipSalientText(rel))
}
