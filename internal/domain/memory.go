package domain

import (
	"fmt"
	"time"
)

// EmbeddingDimensions is the fixed output dimension of the embedding model.
// Every persisted vector has exactly this length once computed.
const EmbeddingDimensions = 384

// RelationshipType classifies a directed edge between two named entities.
// The set is open: extraction only emits the constants below, but callers
// may store other values.
type RelationshipType string

const (
	RelationshipIsA       RelationshipType = "is_a"
	RelationshipHas       RelationshipType = "has"
	RelationshipBelongsTo RelationshipType = "belongs_to"
	RelationshipPartOf    RelationshipType = "part_of"
	RelationshipRelatedTo RelationshipType = "related_to"
	RelationshipCausal    RelationshipType = "causal"
)

// MemoryFact is an atomic claim extracted from a conversation.
type MemoryFact struct {
	ID             string
	ConversationID string
	Content        string
	Source         string // contributor id or "user"
	Timestamp      time.Time
	RelevanceScore float64
	Tags           []string
	Embedding      []float32 // nil until computed
	Verified       bool      // corroborated by >=2 independent mentions
	References     []string  // message ids supporting the fact
}

// TimeRange is a closed interval of message timestamps.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// ConversationSummary condenses a message time-range.
type ConversationSummary struct {
	ID             string
	ConversationID string
	TimeRange      TimeRange
	Summary        string
	KeyPoints      []string
	Participants   []string
	MessageCount   int
	Embedding      []float32
	CreatedBy      string
	CreatedAt      time.Time
}

// EntityRelationship is a directed typed edge between two named entities.
type EntityRelationship struct {
	ID             string
	ConversationID string
	SourceEntity   string
	TargetEntity   string
	Type           RelationshipType
	Confidence     float64
	Evidence       []string // message ids
	Embedding      []float32
	CreatedBy      string
	CreatedAt      time.Time
}

// SharedMemoryContext is the read-model aggregate over one conversation.
type SharedMemoryContext struct {
	ConversationID string
	Facts          []*MemoryFact
	Summaries      []*ConversationSummary
	Relationships  []*EntityRelationship
	LastUpdated    time.Time
	Version        int64
}

// Conversation owns all memory items scoped to it. Deleting a conversation
// cascades to its facts, summaries, relationships and extraction state.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn of the raw conversation stream the extractor consumes.
type Message struct {
	ID        string
	Sender    string
	Content   string
	Timestamp time.Time
}

// MemoryStats aggregates per-conversation memory counters.
type MemoryStats struct {
	ConversationID    string
	FactCount         int64
	SummaryCount      int64
	RelationshipCount int64
	AvgRelevance      float64
	OldestFact        *time.Time
	NewestFact        *time.Time
}

// CleanupResult reports per-kind deletion counts from retention cleanup.
type CleanupResult struct {
	FactsDeleted         int64
	SummariesDeleted     int64
	RelationshipsDeleted int64
}

// Total returns the number of items removed across all kinds.
func (r CleanupResult) Total() int64 {
	return r.FactsDeleted + r.SummariesDeleted + r.RelationshipsDeleted
}

// ValidateFact validates a MemoryFact instance
func ValidateFact(f *MemoryFact) error {
	if f == nil {
		return fmt.Errorf("fact cannot be nil")
	}
	if f.ID == "" {
		return fmt.Errorf("fact ID is required")
	}
	if f.ConversationID == "" {
		return fmt.Errorf("fact ConversationID is required")
	}
	if f.Content == "" {
		return fmt.Errorf("fact Content is required")
	}
	if f.RelevanceScore < 0 || f.RelevanceScore > 1 {
		return ErrInvalidRelevanceScore
	}
	if f.Embedding != nil && len(f.Embedding) != EmbeddingDimensions {
		return ErrInvalidEmbeddingLength
	}
	return nil
}

// ValidateSummary validates a ConversationSummary instance
func ValidateSummary(s *ConversationSummary) error {
	if s == nil {
		return fmt.Errorf("summary cannot be nil")
	}
	if s.ID == "" {
		return fmt.Errorf("summary ID is required")
	}
	if s.ConversationID == "" {
		return fmt.Errorf("summary ConversationID is required")
	}
	if s.Summary == "" {
		return fmt.Errorf("summary text is required")
	}
	if s.TimeRange.Start.After(s.TimeRange.End) {
		return ErrInvalidTimeRange
	}
	if s.MessageCount < 0 {
		return fmt.Errorf("summary MessageCount cannot be negative")
	}
	return nil
}

// ValidateRelationship validates an EntityRelationship instance
func ValidateRelationship(r *EntityRelationship) error {
	if r == nil {
		return fmt.Errorf("relationship cannot be nil")
	}
	if r.ID == "" {
		return fmt.Errorf("relationship ID is required")
	}
	if r.ConversationID == "" {
		return fmt.Errorf("relationship ConversationID is required")
	}
	if r.SourceEntity == "" || r.TargetEntity == "" {
		return fmt.Errorf("relationship entities are required")
	}
	if r.Type == "" {
		return fmt.Errorf("relationship Type is required")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// FactSalientText returns the text used to embed a fact.
func FactSalientText(f *MemoryFact) string {
	return f.Content
}

// SummarySalientText returns the text used to embed a summary.
func SummarySalientText(s *ConversationSummary) string {
	return s.Summary
}

// RelationshipSalientText returns the text used to embed a relationship.
func RelationshipSalientText(r *EntityRelationship) string {
	return fmt.Sprintf("%s %s %s", r.SourceEntity, r.Type, r.TargetEntity)
}
