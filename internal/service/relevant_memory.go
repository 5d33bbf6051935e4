package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/telemetry"
)

// charsPerToken is the character-length heuristic for token estimation.
const charsPerToken = 4

// RelevantMemory is the token-budgeted context selection for one query.
type RelevantMemory struct {
	Facts         []*domain.MemoryFact
	Relationships []*domain.EntityRelationship
	Summaries     []*domain.ConversationSummary
	Context       string
	TokenCount    int
}

// EstimateTokens approximates the token cost of text, rounding up.
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// GetRelevantMemory ranks memory against the query and greedily packs a
// token budget in strict priority order facts, then relationships, then
// summaries. Facts are terse and cheap; summaries are long with lower
// marginal value per token. Items whose cost exceeds the remaining budget
// are skipped, so the reported token count never exceeds maxTokens.
func (s *SharedMemoryService) GetRelevantMemory(ctx context.Context, conversationID, query string, maxTokens int) (*RelevantMemory, error) {
	ctx, span := telemetry.StartSpan(ctx, "SharedMemoryService.GetRelevantMemory", telemetry.SpanAttributes{
		ConversationID: conversationID,
		Operation:      "relevant_memory",
	})
	defer span.End()

	if maxTokens <= 0 {
		maxTokens = 1000
	}

	search, err := s.SemanticSearch(ctx, conversationID, query, SemanticSearchOptions{
		Type:  SearchAll,
		Limit: 50,
	})
	if err != nil {
		return nil, err
	}

	result := &RelevantMemory{}
	remaining := maxTokens

	for _, m := range search.Facts {
		cost := EstimateTokens(factLine(m.Fact))
		if cost > remaining {
			continue
		}
		result.Facts = append(result.Facts, m.Fact)
		result.TokenCount += cost
		remaining -= cost
	}
	for _, m := range search.Relationships {
		cost := EstimateTokens(relationshipLine(m.Relationship))
		if cost > remaining {
			continue
		}
		result.Relationships = append(result.Relationships, m.Relationship)
		result.TokenCount += cost
		remaining -= cost
	}
	for _, m := range search.Summaries {
		cost := EstimateTokens(summaryLine(m.Summary))
		if cost > remaining {
			continue
		}
		result.Summaries = append(result.Summaries, m.Summary)
		result.TokenCount += cost
		remaining -= cost
	}

	result.Context = renderContext(result)
	return result, nil
}

func factLine(f *domain.MemoryFact) string {
	return "- fact: " + f.Content
}

func relationshipLine(r *domain.EntityRelationship) string {
	return fmt.Sprintf("- relationship: %s %s %s", r.SourceEntity, r.Type, r.TargetEntity)
}

func summaryLine(s *domain.ConversationSummary) string {
	return "- summary: " + s.Summary
}

// renderContext formats the selection as a prompt block. The header is a
// presentation convention for LLM injection, not part of the token budget.
func renderContext(r *RelevantMemory) string {
	if len(r.Facts) == 0 && len(r.Relationships) == 0 && len(r.Summaries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("### Context Information ###\n")
	for _, f := range r.Facts {
		b.WriteString(factLine(f))
		b.WriteByte('\n')
	}
	for _, rel := range r.Relationships {
		b.WriteString(relationshipLine(rel))
		b.WriteByte('\n')
	}
	for _, s := range r.Summaries {
		b.WriteString(summaryLine(s))
		b.WriteByte('\n')
	}
	return b.String()
}
