// Package extractor derives candidate memory items from a batch of
// conversation messages. Extraction is pattern-driven and total: malformed
// or empty input yields an empty result, never an error.
package extractor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loomchat/loom-memory/internal/domain"
)

// ExtractionType selects which item kinds one extraction pass produces.
type ExtractionType string

const (
	ExtractFacts         ExtractionType = "facts"
	ExtractRelationships ExtractionType = "relationships"
	ExtractSummary       ExtractionType = "summary"
	ExtractAll           ExtractionType = "all"
)

// minMeaningfulLength filters out short greetings that contribute nothing.
const minMeaningfulLength = 10

// baselineConfidence is the default confidence of a pattern-matched
// relationship before corroboration.
const baselineConfidence = 0.6

// Request is one extraction pass over a message batch.
type Request struct {
	ConversationID string
	Messages       []domain.Message
	Type           ExtractionType
}

// Result holds draft items lacking ids and embeddings; those are assigned
// later by the store and facade.
type Result struct {
	Facts          []*domain.MemoryFact
	Relationships  []*domain.EntityRelationship
	Summary        *domain.ConversationSummary
	Confidence     float64
	ProcessingTime time.Duration
}

// ValidType reports whether t names a known extraction type.
func ValidType(t ExtractionType) bool {
	switch t {
	case ExtractFacts, ExtractRelationships, ExtractSummary, ExtractAll:
		return true
	}
	return false
}

// Extractor is a stateless pattern-driven extraction pipeline.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract runs the pipeline: pre-filter, pattern matching, in-batch
// deduplication, optional summary, confidence scoring. Empty input
// short-circuits without touching the clock.
func (e *Extractor) Extract(req Request) *Result {
	if len(req.Messages) == 0 {
		return &Result{Confidence: 0}
	}

	qualifying := make([]domain.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if len(strings.TrimSpace(msg.Content)) >= minMeaningfulLength {
			qualifying = append(qualifying, msg)
		}
	}
	if len(qualifying) == 0 {
		return &Result{Confidence: 0}
	}

	start := time.Now()
	result := &Result{}

	wantFacts := req.Type == ExtractFacts || req.Type == ExtractAll
	wantRelationships := req.Type == ExtractRelationships || req.Type == ExtractAll
	wantSummary := req.Type == ExtractSummary || req.Type == ExtractAll

	if wantFacts {
		var facts []*domain.MemoryFact
		for _, msg := range qualifying {
			facts = append(facts, extractFacts(msg)...)
		}
		result.Facts = dedupeFacts(facts)
	}

	if wantRelationships {
		var rels []*domain.EntityRelationship
		for _, msg := range qualifying {
			rels = append(rels, extractRelationships(msg)...)
		}
		result.Relationships = dedupeRelationships(rels)
	}

	if wantSummary {
		result.Summary = buildSummary(req.Messages, result.Facts, result.Relationships)
	}

	result.Confidence = confidence(len(result.Facts)+len(result.Relationships), len(qualifying), result.Summary != nil)
	result.ProcessingTime = time.Since(start)
	return result
}

// confidence reflects extraction yield relative to input size. Zero when
// nothing was extracted.
func confidence(items, messages int, hasSummary bool) float64 {
	if items == 0 && !hasSummary {
		return 0
	}
	score := float64(items) / float64(messages*2)
	if hasSummary {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	if score < 0.1 {
		score = 0.1
	}
	return score
}

// buildSummary spans the full message set's timestamp range. MessageCount
// counts all input messages, not just qualifying ones.
func buildSummary(messages []domain.Message, facts []*domain.MemoryFact, rels []*domain.EntityRelationship) *domain.ConversationSummary {
	startTime := messages[0].Timestamp
	endTime := messages[0].Timestamp
	seen := make(map[string]struct{})
	participants := make([]string, 0, 2)
	for _, msg := range messages {
		if msg.Timestamp.Before(startTime) {
			startTime = msg.Timestamp
		}
		if msg.Timestamp.After(endTime) {
			endTime = msg.Timestamp
		}
		if _, ok := seen[msg.Sender]; !ok && msg.Sender != "" {
			seen[msg.Sender] = struct{}{}
			participants = append(participants, msg.Sender)
		}
	}
	sort.Strings(participants)

	keyPoints := make([]string, 0, 5)
	for _, f := range facts {
		if len(keyPoints) >= 5 {
			break
		}
		keyPoints = append(keyPoints, f.Content)
	}
	for _, r := range rels {
		if len(keyPoints) >= 5 {
			break
		}
		keyPoints = append(keyPoints, fmt.Sprintf("%s %s %s", r.SourceEntity, r.Type, r.TargetEntity))
	}

	return &domain.ConversationSummary{
		TimeRange:    domain.TimeRange{Start: startTime, End: endTime},
		Summary:      fmt.Sprintf("Conversation between %s covering %d messages", strings.Join(participants, ", "), len(messages)),
		KeyPoints:    keyPoints,
		Participants: participants,
		MessageCount: len(messages),
		CreatedAt:    time.Now().UTC(),
	}
}
