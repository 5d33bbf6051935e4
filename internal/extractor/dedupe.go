package extractor

import (
	"strings"
	"unicode"

	"github.com/loomchat/loom-memory/internal/domain"
)

// factCoreTokens is how many leading normalized tokens identify a fact's
// core subject and predicate. Trailing elaboration beyond the core is
// ignored when comparing.
const factCoreTokens = 4

// dedupeFacts merges facts whose normalized core content is near-identical,
// keeping the first occurrence and unioning reference lists. A fact
// corroborated by two or more distinct messages is marked verified.
func dedupeFacts(facts []*domain.MemoryFact) []*domain.MemoryFact {
	if len(facts) == 0 {
		return facts
	}

	byKey := make(map[string]*domain.MemoryFact, len(facts))
	out := make([]*domain.MemoryFact, 0, len(facts))
	for _, f := range facts {
		key := factKey(f.Content)
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = f
			out = append(out, f)
			continue
		}
		existing.References = unionStrings(existing.References, f.References)
		if len(existing.References) >= 2 {
			existing.Verified = true
		}
	}
	return out
}

// dedupeRelationships merges relationships sharing the same
// (source, type, target) triple: evidence lists are unioned and the maximum
// confidence wins.
func dedupeRelationships(rels []*domain.EntityRelationship) []*domain.EntityRelationship {
	if len(rels) == 0 {
		return rels
	}

	byKey := make(map[string]*domain.EntityRelationship, len(rels))
	out := make([]*domain.EntityRelationship, 0, len(rels))
	for _, r := range rels {
		key := strings.ToLower(r.SourceEntity) + "|" + string(r.Type) + "|" + strings.ToLower(r.TargetEntity)
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = r
			out = append(out, r)
			continue
		}
		existing.Evidence = unionStrings(existing.Evidence, r.Evidence)
		if r.Confidence > existing.Confidence {
			existing.Confidence = r.Confidence
		}
	}
	return out
}

// factKey normalizes content (lowercase, punctuation stripped) and keeps the
// leading core tokens.
func factKey(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range strings.ToLower(content) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	tokens := strings.Fields(b.String())
	if len(tokens) > factCoreTokens {
		tokens = tokens[:factCoreTokens]
	}
	return strings.Join(tokens, " ")
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
