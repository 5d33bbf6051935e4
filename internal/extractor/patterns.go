package extractor

import (
	"regexp"
	"strings"

	"github.com/loomchat/loom-memory/internal/domain"
)

// Recognized fact patterns. Coverage is deliberately heuristic: regular
// expressions over sentences, not a parser.
var (
	definitionPattern = regexp.MustCompile(`(?i)\b[\w][\w\s]*?\s+(?:means|is defined as)\s+.+`)
	numericalPattern  = regexp.MustCompile(`\d+(?:\.\d+)?\s*(?:%|percent\b)?`)
	causalPattern     = regexp.MustCompile(`(?i)\b.+?\s+(?:occurs because|because)\s+.+`)

	sentenceSplit = regexp.MustCompile(`[.!?]+\s*`)
)

// Recognized relationship patterns. Source entities are the surrounding
// capitalized tokens, targets the following noun token.
var (
	isAPattern       = regexp.MustCompile(`\b([A-Z][\w-]*(?:\s+[A-Z][\w-]*)*)\s+is\s+an?\s+([a-zA-Z][\w-]*)`)
	hasPattern       = regexp.MustCompile(`\b([A-Z][\w-]*(?:\s+[A-Z][\w-]*)*)\s+has\s+(?:a\s+|an\s+|the\s+)?([a-zA-Z][\w-]*)`)
	belongsToPattern = regexp.MustCompile(`\b([A-Z][\w-]*(?:\s+[A-Z][\w-]*)*)\s+belongs\s+to\s+(?:the\s+)?([a-zA-Z][\w-]*)`)
)

// extractFacts scans one message for definitional, numerical and causal
// claims. Each match becomes a draft fact whose content is the matched
// sentence.
func extractFacts(msg domain.Message) []*domain.MemoryFact {
	var facts []*domain.MemoryFact

	for _, sentence := range splitSentences(msg.Content) {
		var tags []string
		if definitionPattern.MatchString(sentence) {
			tags = append(tags, "definition")
		}
		if numericalPattern.MatchString(sentence) {
			tags = append(tags, "numerical")
		}
		if causalPattern.MatchString(sentence) {
			tags = append(tags, "causal")
		}
		if len(tags) == 0 {
			continue
		}

		facts = append(facts, &domain.MemoryFact{
			Content:        sentence,
			Source:         msg.Sender,
			Timestamp:      msg.Timestamp,
			RelevanceScore: 0.5,
			Tags:           tags,
			References:     []string{msg.ID},
		})
	}
	return facts
}

// extractRelationships scans one message for copular, possessive and
// membership constructions.
func extractRelationships(msg domain.Message) []*domain.EntityRelationship {
	var rels []*domain.EntityRelationship

	add := func(source, target string, relType domain.RelationshipType) {
		source = strings.TrimSpace(source)
		target = strings.TrimSpace(target)
		if source == "" || target == "" {
			return
		}
		rels = append(rels, &domain.EntityRelationship{
			SourceEntity: source,
			TargetEntity: target,
			Type:         relType,
			Confidence:   baselineConfidence,
			Evidence:     []string{msg.ID},
			CreatedBy:    msg.Sender,
			CreatedAt:    msg.Timestamp,
		})
	}

	for _, m := range isAPattern.FindAllStringSubmatch(msg.Content, -1) {
		add(m[1], m[2], domain.RelationshipIsA)
	}
	for _, m := range hasPattern.FindAllStringSubmatch(msg.Content, -1) {
		add(m[1], m[2], domain.RelationshipHas)
	}
	for _, m := range belongsToPattern.FindAllStringSubmatch(msg.Content, -1) {
		add(m[1], m[2], domain.RelationshipBelongsTo)
	}
	return rels
}

func splitSentences(content string) []string {
	parts := sentenceSplit.Split(content, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}
