package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/extractor"
	"github.com/loomchat/loom-memory/internal/pagination"
	"github.com/loomchat/loom-memory/internal/similarity"
	"github.com/loomchat/loom-memory/internal/telemetry"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// relevanceDecay is the EMA factor applied when fresh context similarity is
// below a fact's stored score: the score decays toward the similarity.
// Scores at or below the fresh similarity are raised to it, so facts
// relevant to the current context never lose ground.
const relevanceDecay = 0.3

// SemanticSearchOptions narrows a semantic search.
type SemanticSearchOptions struct {
	Type          MemorySearchType
	Limit         int
	MinSimilarity float64
}

// ScoredFact pairs a fact with its query similarity.
type ScoredFact struct {
	Fact  *domain.MemoryFact
	Score float64
}

// ScoredSummary pairs a summary with its query similarity.
type ScoredSummary struct {
	Summary *domain.ConversationSummary
	Score   float64
}

// ScoredRelationship pairs a relationship with its query similarity.
type ScoredRelationship struct {
	Relationship *domain.EntityRelationship
	Score        float64
}

// SemanticSearchResult bundles ranked matches per item kind.
type SemanticSearchResult struct {
	Facts         []ScoredFact
	Summaries     []ScoredSummary
	Relationships []ScoredRelationship
}

// ExtractionOutcome reports what one extract-and-store pass persisted.
type ExtractionOutcome struct {
	FactsAdded         int
	RelationshipsAdded int
	SummaryAdded       bool
	Confidence         float64
	ProcessingTime     time.Duration
}

// SharedMemoryService orchestrates extraction, embedding and persistence of
// conversation memory. It never writes persisted state directly: every
// mutation goes through the repositories.
type SharedMemoryService struct {
	facts         FactRepositoryInterface
	summaries     SummaryRepositoryInterface
	relationships RelationshipRepositoryInterface
	conversations ConversationRepositoryInterface
	jobs          EmbeddingJobRepositoryInterface
	embedder      EmbeddingClient
	extractor     *extractor.Extractor
	uuidGen       UUIDGenerator
	events        *eventBroadcaster
}

// NewSharedMemoryService creates a new SharedMemoryService instance
func NewSharedMemoryService(
	facts FactRepositoryInterface,
	summaries SummaryRepositoryInterface,
	relationships RelationshipRepositoryInterface,
	conversations ConversationRepositoryInterface,
	jobs EmbeddingJobRepositoryInterface,
	embedder EmbeddingClient,
) *SharedMemoryService {
	return &SharedMemoryService{
		facts:         facts,
		summaries:     summaries,
		relationships: relationships,
		conversations: conversations,
		jobs:          jobs,
		embedder:      embedder,
		extractor:     extractor.New(),
		uuidGen:       &DefaultUUIDGenerator{},
		events:        newEventBroadcaster(),
	}
}

// WithUUIDGenerator swaps the UUID generator (for testing).
func (s *SharedMemoryService) WithUUIDGenerator(gen UUIDGenerator) *SharedMemoryService {
	s.uuidGen = gen
	return s
}

// Subscribe registers a listener for memory events and returns its handle.
func (s *SharedMemoryService) Subscribe(fn MemoryListener) int {
	return s.events.subscribe(fn)
}

// Unsubscribe removes a previously registered listener.
func (s *SharedMemoryService) Unsubscribe(id int) {
	s.events.unsubscribe(id)
}

// AddFact embeds and persists a draft fact, assigning its id. When the
// embedding backend is down the fact persists without a vector and a
// backfill job is queued.
func (s *SharedMemoryService) AddFact(ctx context.Context, conversationID string, fact *domain.MemoryFact) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "SharedMemoryService.AddFact", telemetry.SpanAttributes{
		ConversationID: conversationID,
		Operation:      "add_fact",
	})
	defer span.End()

	now := time.Now().UTC()
	fact.ID = s.uuidGen.NewString()
	fact.ConversationID = conversationID
	if fact.Timestamp.IsZero() {
		fact.Timestamp = now
	}
	if fact.RelevanceScore == 0 {
		fact.RelevanceScore = 0.5
	}

	embedded := s.embedSalientText(ctx, domain.FactSalientText(fact), &fact.Embedding)

	if err := domain.ValidateFact(fact); err != nil {
		return "", err
	}
	if err := s.conversations.Ensure(ctx, conversationID); err != nil {
		return "", err
	}
	if err := s.facts.Create(ctx, fact); err != nil {
		return "", err
	}
	if !embedded {
		s.queueBackfill(ctx, fact.ID)
	}
	s.touch(ctx, conversationID, now)

	s.events.notify(MemoryEvent{
		Type:           EventFactAdded,
		ConversationID: conversationID,
		Data:           fact,
		Timestamp:      now,
		Source:         fact.Source,
	})
	return fact.ID, nil
}

// AddSummary embeds and persists a draft summary, assigning its id.
func (s *SharedMemoryService) AddSummary(ctx context.Context, conversationID string, summary *domain.ConversationSummary) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "SharedMemoryService.AddSummary", telemetry.SpanAttributes{
		ConversationID: conversationID,
		Operation:      "add_summary",
	})
	defer span.End()

	now := time.Now().UTC()
	summary.ID = s.uuidGen.NewString()
	summary.ConversationID = conversationID
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = now
	}

	s.embedSalientText(ctx, domain.SummarySalientText(summary), &summary.Embedding)

	if err := domain.ValidateSummary(summary); err != nil {
		return "", err
	}
	if err := s.conversations.Ensure(ctx, conversationID); err != nil {
		return "", err
	}
	if err := s.summaries.Create(ctx, summary); err != nil {
		return "", err
	}
	s.touch(ctx, conversationID, now)

	s.events.notify(MemoryEvent{
		Type:           EventSummaryAdded,
		ConversationID: conversationID,
		Data:           summary,
		Timestamp:      now,
		Source:         summary.CreatedBy,
	})
	return summary.ID, nil
}

// AddRelationship embeds and persists a draft relationship, assigning its id.
func (s *SharedMemoryService) AddRelationship(ctx context.Context, conversationID string, rel *domain.EntityRelationship) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "SharedMemoryService.AddRelationship", telemetry.SpanAttributes{
		ConversationID: conversationID,
		Operation:      "add_relationship",
	})
	defer span.End()

	now := time.Now().UTC()
	rel.ID = s.uuidGen.NewString()
	rel.ConversationID = conversationID
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}

	s.embedSalientText(ctx, domain.RelationshipSalientText(rel), &rel.Embedding)

	if err := domain.ValidateRelationship(rel); err != nil {
		return "", err
	}
	if err := s.conversations.Ensure(ctx, conversationID); err != nil {
		return "", err
	}
	if err := s.relationships.Create(ctx, rel); err != nil {
		return "", err
	}
	s.touch(ctx, conversationID, now)

	s.events.notify(MemoryEvent{
		Type:           EventRelationshipAdded,
		ConversationID: conversationID,
		Data:           rel,
		Timestamp:      now,
		Source:         rel.CreatedBy,
	})
	return rel.ID, nil
}

// GetSharedMemory fans out to the three repositories concurrently and
// assembles the read-model aggregate. Any branch failure propagates.
func (s *SharedMemoryService) GetSharedMemory(ctx context.Context, conversationID string) (*domain.SharedMemoryContext, error) {
	ctx, span := telemetry.StartSpan(ctx, "SharedMemoryService.GetSharedMemory", telemetry.SpanAttributes{
		ConversationID: conversationID,
		Operation:      "get",
	})
	defer span.End()

	var (
		wg      sync.WaitGroup
		facts   []*domain.MemoryFact
		sums    []*domain.ConversationSummary
		rels    []*domain.EntityRelationship
		factErr error
		sumErr  error
		relErr  error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		facts, factErr = s.facts.ListByConversation(ctx, conversationID, 0)
	}()
	go func() {
		defer wg.Done()
		sums, sumErr = s.summaries.ListByConversation(ctx, conversationID, 0)
	}()
	go func() {
		defer wg.Done()
		rels, relErr = s.relationships.ListByConversation(ctx, conversationID, 0)
	}()
	wg.Wait()

	for _, err := range []error{factErr, sumErr, relErr} {
		if err != nil {
			return nil, err
		}
	}

	return &domain.SharedMemoryContext{
		ConversationID: conversationID,
		Facts:          facts,
		Summaries:      sums,
		Relationships:  rels,
		LastUpdated:    time.Now().UTC(),
		Version:        1,
	}, nil
}

// SemanticSearch embeds the query and ranks stored items by cosine
// similarity. When embedding generation fails the search degrades to empty
// results for all kinds: memory augmentation must never block the primary
// conversation flow.
func (s *SharedMemoryService) SemanticSearch(ctx context.Context, conversationID, query string, opts SemanticSearchOptions) (*SemanticSearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "SharedMemoryService.SemanticSearch", telemetry.SpanAttributes{
		ConversationID: conversationID,
		Operation:      "semantic_search",
	})
	defer span.End()

	if opts.Type == "" {
		opts.Type = SearchAll
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	result := &SemanticSearchResult{}

	queryVec, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		log.Printf("semantic search degraded to empty results: %v", err)
		return result, nil
	}

	if opts.Type == SearchFacts || opts.Type == SearchAll {
		facts, err := s.facts.ListByConversation(ctx, conversationID, 0)
		if err != nil {
			return nil, err
		}
		matches, err := s.rankFacts(queryVec, facts, opts)
		if err != nil {
			return nil, err
		}
		result.Facts = matches
	}

	if opts.Type == SearchSummaries || opts.Type == SearchAll {
		sums, err := s.summaries.ListByConversation(ctx, conversationID, 0)
		if err != nil {
			return nil, err
		}
		matches, err := s.rankSummaries(queryVec, sums, opts)
		if err != nil {
			return nil, err
		}
		result.Summaries = matches
	}

	if opts.Type == SearchRelationships || opts.Type == SearchAll {
		rels, err := s.relationships.ListByConversation(ctx, conversationID, 0)
		if err != nil {
			return nil, err
		}
		matches, err := s.rankRelationships(queryVec, rels, opts)
		if err != nil {
			return nil, err
		}
		result.Relationships = matches
	}

	return result, nil
}

// ExtractAndStoreMemory runs the extraction pipeline over messages and
// persists every draft through the add methods, so items are embedded and
// subscribers notified.
func (s *SharedMemoryService) ExtractAndStoreMemory(ctx context.Context, conversationID string, messages []domain.Message, extractionType extractor.ExtractionType) (*ExtractionOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "SharedMemoryService.ExtractAndStoreMemory", telemetry.SpanAttributes{
		ConversationID: conversationID,
		Operation:      "extract",
	})
	defer span.End()

	if !extractor.ValidType(extractionType) {
		return nil, domain.ErrInvalidExtractionType
	}

	res := s.extractor.Extract(extractor.Request{
		ConversationID: conversationID,
		Messages:       messages,
		Type:           extractionType,
	})

	outcome := &ExtractionOutcome{
		Confidence:     res.Confidence,
		ProcessingTime: res.ProcessingTime,
	}

	for _, fact := range res.Facts {
		if _, err := s.AddFact(ctx, conversationID, fact); err != nil {
			return nil, err
		}
		outcome.FactsAdded++
	}
	for _, rel := range res.Relationships {
		if _, err := s.AddRelationship(ctx, conversationID, rel); err != nil {
			return nil, err
		}
		outcome.RelationshipsAdded++
	}
	if res.Summary != nil {
		if _, err := s.AddSummary(ctx, conversationID, res.Summary); err != nil {
			return nil, err
		}
		outcome.SummaryAdded = true
	}

	return outcome, nil
}

// UpdateRelevanceScores re-scores existing facts against the current
// context. A fact whose fresh context similarity exceeds its stored score
// is raised to the similarity; otherwise the score decays toward it. The
// result always stays within [0,1].
func (s *SharedMemoryService) UpdateRelevanceScores(ctx context.Context, conversationID, currentContext string) error {
	ctx, span := telemetry.StartSpan(ctx, "SharedMemoryService.UpdateRelevanceScores", telemetry.SpanAttributes{
		ConversationID: conversationID,
		Operation:      "update_relevance",
	})
	defer span.End()

	contextVec, err := s.embedder.GenerateEmbedding(ctx, currentContext)
	if err != nil {
		return err
	}

	facts, err := s.facts.ListByConversation(ctx, conversationID, 0)
	if err != nil {
		return err
	}

	for _, fact := range facts {
		if fact.Embedding == nil {
			continue
		}
		sim, err := similarity.Cosine(contextVec, fact.Embedding)
		if err != nil {
			return err
		}
		if sim < 0 {
			sim = 0
		}

		score := fact.RelevanceScore
		if sim >= score {
			score = sim
		} else {
			score = score*(1-relevanceDecay) + sim*relevanceDecay
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		if score == fact.RelevanceScore {
			continue
		}

		if err := s.facts.Update(ctx, fact.ID, FactUpdate{RelevanceScore: &score}); err != nil {
			return err
		}
	}
	return nil
}

// SearchMemory delegates a text-pattern search to the repositories and
// bundles matches with timing metadata.
func (s *SharedMemoryService) SearchMemory(ctx context.Context, conversationID string, q MemorySearchQuery) (*MemorySearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "SharedMemoryService.SearchMemory", telemetry.SpanAttributes{
		ConversationID: conversationID,
		Operation:      "search",
	})
	defer span.End()

	if q.Type == "" {
		q.Type = SearchAll
	}
	switch q.Type {
	case SearchFacts, SearchSummaries, SearchRelationships, SearchAll:
	default:
		return nil, domain.ErrInvalidSearchType
	}

	start := time.Now()
	result := &MemorySearchResult{}

	if q.Type == SearchFacts || q.Type == SearchAll {
		facts, err := s.facts.Search(ctx, conversationID, q)
		if err != nil {
			return nil, err
		}
		result.Facts = facts
	}
	if q.Type == SearchSummaries || q.Type == SearchAll {
		sums, err := s.summaries.Search(ctx, conversationID, q)
		if err != nil {
			return nil, err
		}
		result.Summaries = sums
	}
	if q.Type == SearchRelationships || q.Type == SearchAll {
		rels, err := s.relationships.Search(ctx, conversationID, q)
		if err != nil {
			return nil, err
		}
		result.Relationships = rels
	}

	result.TotalCount = len(result.Facts) + len(result.Summaries) + len(result.Relationships)
	result.Elapsed = time.Since(start)
	return result, nil
}

// CleanupMemory deletes items older than the retention window. A window of
// zero days removes everything in the conversation.
func (s *SharedMemoryService) CleanupMemory(ctx context.Context, conversationID string, retentionDays int) (*domain.CleanupResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "SharedMemoryService.CleanupMemory", telemetry.SpanAttributes{
		ConversationID: conversationID,
		Operation:      "cleanup",
	})
	defer span.End()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result := &domain.CleanupResult{}

	var err error
	if result.FactsDeleted, err = s.facts.DeleteOlderThan(ctx, conversationID, cutoff); err != nil {
		return nil, err
	}
	if result.SummariesDeleted, err = s.summaries.DeleteOlderThan(ctx, conversationID, cutoff); err != nil {
		return nil, err
	}
	if result.RelationshipsDeleted, err = s.relationships.DeleteOlderThan(ctx, conversationID, cutoff); err != nil {
		return nil, err
	}
	return result, nil
}

// GetMemoryStats aggregates per-conversation counters.
func (s *SharedMemoryService) GetMemoryStats(ctx context.Context, conversationID string) (*domain.MemoryStats, error) {
	stats, err := s.facts.Stats(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if stats.SummaryCount, err = s.summaries.Count(ctx, conversationID); err != nil {
		return nil, err
	}
	if stats.RelationshipCount, err = s.relationships.Count(ctx, conversationID); err != nil {
		return nil, err
	}
	return stats, nil
}

// ListFacts returns one cursor page of facts for API listing.
func (s *SharedMemoryService) ListFacts(ctx context.Context, conversationID, cursor string, limit int) (*FactPageResult, error) {
	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	return s.facts.ListByConversationWithCursor(ctx, conversationID, decoded, limit)
}

// UpdateFact applies a partial in-place update to a fact.
func (s *SharedMemoryService) UpdateFact(ctx context.Context, id string, update FactUpdate) error {
	if update.RelevanceScore != nil && (*update.RelevanceScore < 0 || *update.RelevanceScore > 1) {
		return domain.ErrInvalidRelevanceScore
	}
	return s.facts.Update(ctx, id, update)
}

// DeleteFact removes a fact permanently.
func (s *SharedMemoryService) DeleteFact(ctx context.Context, id string) error {
	return s.facts.Delete(ctx, id)
}

// DeleteSummary removes a summary permanently.
func (s *SharedMemoryService) DeleteSummary(ctx context.Context, id string) error {
	return s.summaries.Delete(ctx, id)
}

// DeleteRelationship removes a relationship permanently.
func (s *SharedMemoryService) DeleteRelationship(ctx context.Context, id string) error {
	return s.relationships.Delete(ctx, id)
}

func (s *SharedMemoryService) rankFacts(queryVec []float32, facts []*domain.MemoryFact, opts SemanticSearchOptions) ([]ScoredFact, error) {
	candidates := make([]similarity.Candidate, 0, len(facts))
	for _, f := range facts {
		candidates = append(candidates, similarity.Candidate{ID: f.ID, Vector: f.Embedding, Payload: f})
	}
	matches, err := similarity.Rank(queryVec, candidates, opts.Limit, opts.MinSimilarity)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredFact, len(matches))
	for i, m := range matches {
		out[i] = ScoredFact{Fact: m.Payload.(*domain.MemoryFact), Score: m.Score}
	}
	return out, nil
}

func (s *SharedMemoryService) rankSummaries(queryVec []float32, sums []*domain.ConversationSummary, opts SemanticSearchOptions) ([]ScoredSummary, error) {
	candidates := make([]similarity.Candidate, 0, len(sums))
	for _, sum := range sums {
		candidates = append(candidates, similarity.Candidate{ID: sum.ID, Vector: sum.Embedding, Payload: sum})
	}
	matches, err := similarity.Rank(queryVec, candidates, opts.Limit, opts.MinSimilarity)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredSummary, len(matches))
	for i, m := range matches {
		out[i] = ScoredSummary{Summary: m.Payload.(*domain.ConversationSummary), Score: m.Score}
	}
	return out, nil
}

func (s *SharedMemoryService) rankRelationships(queryVec []float32, rels []*domain.EntityRelationship, opts SemanticSearchOptions) ([]ScoredRelationship, error) {
	candidates := make([]similarity.Candidate, 0, len(rels))
	for _, rel := range rels {
		candidates = append(candidates, similarity.Candidate{ID: rel.ID, Vector: rel.Embedding, Payload: rel})
	}
	matches, err := similarity.Rank(queryVec, candidates, opts.Limit, opts.MinSimilarity)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredRelationship, len(matches))
	for i, m := range matches {
		out[i] = ScoredRelationship{Relationship: m.Payload.(*domain.EntityRelationship), Score: m.Score}
	}
	return out, nil
}

// embedSalientText computes an embedding into dst, reporting success. A
// backend failure leaves dst nil so the item persists without a vector.
func (s *SharedMemoryService) embedSalientText(ctx context.Context, text string, dst *[]float32) bool {
	if *dst != nil {
		return true
	}
	vec, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		log.Printf("embedding unavailable, persisting without vector: %v", err)
		return false
	}
	*dst = vec
	return true
}

func (s *SharedMemoryService) queueBackfill(ctx context.Context, factID string) {
	job := &domain.EmbeddingJob{
		ID:        s.uuidGen.NewString(),
		FactID:    factID,
		Status:    domain.EmbeddingJobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		log.Printf("failed to queue embedding backfill for fact %s: %v", factID, err)
	}
}

func (s *SharedMemoryService) touch(ctx context.Context, conversationID string, at time.Time) {
	if err := s.conversations.Touch(ctx, conversationID, at); err != nil {
		log.Printf("failed to touch conversation %s: %v", conversationID, err)
	}
}
