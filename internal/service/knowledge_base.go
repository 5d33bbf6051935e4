package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/similarity"
	"github.com/loomchat/loom-memory/internal/telemetry"
)

// keywordBoost is added to a chunk's semantic score once per literal
// keyword match during hybrid search.
const keywordBoost = 0.1

// DocumentArchive stores raw document content durably, keyed by document id.
type DocumentArchive interface {
	PutDocument(ctx context.Context, key, contentType string, body []byte) error
	DeleteDocument(ctx context.Context, key string) error
}

// KnowledgeQueryOptions narrows a knowledge base query.
type KnowledgeQueryOptions struct {
	MaxTokens   int
	MinScore    float64
	FileTypes   []domain.DocumentType
	DocumentIDs []string
	Limit       int
}

// KnowledgeSource attributes one selected chunk back to its document.
type KnowledgeSource struct {
	DocumentID   string
	DocumentName string
	Path         string
	Type         domain.DocumentType
	Section      string
	StartLine    int
	EndLine      int
	Score        float64
}

// KnowledgeQueryResult is the packed context for one query.
type KnowledgeQueryResult struct {
	Context    string
	Sources    []KnowledgeSource
	TokenCount int
	CacheHit   bool
}

// ScoredChunk pairs a chunk with its search score.
type ScoredChunk struct {
	Chunk *domain.DocumentChunk
	Score float64
}

// KnowledgeBaseService indexes external documents: it chunks, embeds and
// persists them, and serves token-budgeted retrieval with a TTL result
// cache. Corpus mutation and cache invalidation happen under one lock so a
// stale cached result can never be served after the corpus changes.
type KnowledgeBaseService struct {
	documents DocumentRepositoryInterface
	tx        TxRunnerInterface
	embedder  EmbeddingClient
	archive   DocumentArchive // optional
	cache     *queryCache
	events    *eventBroadcaster
	uuidGen   UUIDGenerator
	readFile  func(string) ([]byte, error)

	mu sync.Mutex
}

// NewKnowledgeBaseService creates a new KnowledgeBaseService instance
func NewKnowledgeBaseService(
	documents DocumentRepositoryInterface,
	tx TxRunnerInterface,
	embedder EmbeddingClient,
	archive DocumentArchive,
) *KnowledgeBaseService {
	return &KnowledgeBaseService{
		documents: documents,
		tx:        tx,
		embedder:  embedder,
		archive:   archive,
		cache:     newQueryCache(defaultCacheTTL, defaultCacheMaxSize),
		events:    newEventBroadcaster(),
		uuidGen:   &DefaultUUIDGenerator{},
		readFile:  os.ReadFile,
	}
}

// WithUUIDGenerator swaps the UUID generator (for testing).
func (s *KnowledgeBaseService) WithUUIDGenerator(gen UUIDGenerator) *KnowledgeBaseService {
	s.uuidGen = gen
	return s
}

// WithCacheSettings overrides the query cache TTL and capacity. Zero values
// fall back to the defaults.
func (s *KnowledgeBaseService) WithCacheSettings(ttl time.Duration, maxEntries int) *KnowledgeBaseService {
	s.cache = newQueryCache(ttl, maxEntries)
	return s
}

// WithFileReader swaps the file reader (for testing).
func (s *KnowledgeBaseService) WithFileReader(read func(string) ([]byte, error)) *KnowledgeBaseService {
	s.readFile = read
	return s
}

// Subscribe registers a listener for document lifecycle events.
func (s *KnowledgeBaseService) Subscribe(fn MemoryListener) int {
	return s.events.subscribe(fn)
}

// Unsubscribe removes a previously registered listener.
func (s *KnowledgeBaseService) Unsubscribe(id int) {
	s.events.unsubscribe(id)
}

// AddDocument reads, chunks, embeds and indexes a file. Identical content
// resolves to the existing document: re-adding is a no-op returning it
// unchanged. When embedding fails the chunks persist without vectors and a
// backfill job is queued.
func (s *KnowledgeBaseService) AddDocument(ctx context.Context, path string) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.AddDocument", telemetry.SpanAttributes{
		Operation: "add_document",
	})
	defer span.End()

	content, err := s.readFile(path)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation,
			fmt.Sprintf("cannot read document %s", path), err)
	}

	hash := contentHash(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.documents.GetByHash(ctx, hash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, err
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	docType := domain.DocumentTypeForExtension(ext)
	text := string(content)

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:        s.uuidGen.NewString(),
		Name:      filepath.Base(path),
		Path:      path,
		Type:      docType,
		Size:      int64(len(content)),
		Hash:      hash,
		Keywords:  extractKeywords(text, 8),
		Summary:   firstLine(text, 200),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if docType == domain.DocumentTypeCode {
		doc.Language = ext
	}
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, err
	}

	pieces := chunkDocument(text, docType, DefaultChunkConfig())
	chunks := make([]domain.DocumentChunk, len(pieces))
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.DocumentChunk{
			ID:         s.uuidGen.NewString(),
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    p.Content,
			Section:    p.Section,
			StartLine:  p.StartLine,
			EndLine:    p.EndLine,
			CreatedAt:  now,
		}
		texts[i] = p.Content
	}

	vectors, embedErr := s.embedder.GenerateEmbeddings(ctx, texts)
	if embedErr == nil {
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}
	} else {
		log.Printf("embedding unavailable, indexing %s without vectors: %v", path, embedErr)
	}

	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().Create(ctx, doc); err != nil {
			return err
		}
		if err := repos.Documents().ReplaceChunks(ctx, doc.ID, chunks); err != nil {
			return err
		}
		if embedErr != nil {
			return repos.EmbeddingJobs().Create(ctx, &domain.EmbeddingJob{
				ID:         s.uuidGen.NewString(),
				DocumentID: doc.ID,
				Status:     domain.EmbeddingJobStatusPending,
				CreatedAt:  now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		if err := s.archive.PutDocument(ctx, doc.ID, contentTypeFor(docType), content); err != nil {
			log.Printf("failed to archive document %s: %v", doc.ID, err)
		}
	}

	s.cache.InvalidateAll()
	s.events.notify(MemoryEvent{
		Type:      EventDocumentAdded,
		Data:      doc,
		Timestamp: now,
	})
	return doc, nil
}

// RemoveDocument deletes a document and its chunks from the index.
func (s *KnowledgeBaseService) RemoveDocument(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.RemoveDocument", telemetry.SpanAttributes{
		DocumentID: id,
		Operation:  "remove_document",
	})
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, id); err != nil {
		return err
	}

	if s.archive != nil {
		if err := s.archive.DeleteDocument(ctx, id); err != nil {
			log.Printf("failed to remove archived document %s: %v", id, err)
		}
	}

	s.cache.InvalidateAll()
	s.events.notify(MemoryEvent{
		Type:      EventDocumentRemoved,
		Data:      doc,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// GetDocument returns one indexed document by id.
func (s *KnowledgeBaseService) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return s.documents.GetByID(ctx, id)
}

// ListDocuments returns all indexed documents, most recently updated first.
func (s *KnowledgeBaseService) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	return s.documents.List(ctx)
}

// Query embeds the text, ranks chunks and packs a token budget, serving
// repeated queries from the TTL cache. Embedding failure degrades to an
// empty result, retrieval augments but never blocks the caller.
func (s *KnowledgeBaseService) Query(ctx context.Context, text string, opts KnowledgeQueryOptions) (*KnowledgeQueryResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.Query", telemetry.SpanAttributes{
		Operation: "query",
	})
	defer span.End()

	key := cacheKey(text, opts)
	if cached, ok := s.cache.Get(key); ok {
		result := *cached.(*KnowledgeQueryResult)
		result.CacheHit = true
		return &result, nil
	}

	// A corpus mutation committing while this query reads must win: the
	// fill below is rejected when the generation moved.
	gen := s.cache.Generation()

	result, degraded, err := s.search(ctx, text, opts)
	if err != nil {
		return nil, err
	}

	// Degraded empty results would pin the outage for a full TTL.
	if !degraded {
		s.cache.SetAt(key, result, gen)
	}
	return result, nil
}

// cacheKey folds the query options into the cache key, results packed
// under one budget or filter set must not answer another.
func cacheKey(text string, opts KnowledgeQueryOptions) string {
	var b strings.Builder
	b.WriteString(text)
	fmt.Fprintf(&b, "|%d|%g|%d", opts.MaxTokens, opts.MinScore, opts.Limit)
	for _, t := range opts.FileTypes {
		b.WriteByte('|')
		b.WriteString(string(t))
	}
	for _, id := range opts.DocumentIDs {
		b.WriteByte('|')
		b.WriteString(id)
	}
	return b.String()
}

// HybridSearch ranks chunks semantically, then boosts each chunk's score
// by a fixed increment per literal keyword found in its text and re-sorts.
func (s *KnowledgeBaseService) HybridSearch(ctx context.Context, query string, keywords []string) ([]ScoredChunk, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.HybridSearch", telemetry.SpanAttributes{
		Operation: "hybrid_search",
	})
	defer span.End()

	matches, _, err := s.rankChunks(ctx, query, KnowledgeQueryOptions{Limit: 50})
	if err != nil {
		return nil, err
	}

	for i := range matches {
		content := strings.ToLower(matches[i].Chunk.Content)
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(content, kw) {
				matches[i].Score += keywordBoost
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

func (s *KnowledgeBaseService) search(ctx context.Context, text string, opts KnowledgeQueryOptions) (*KnowledgeQueryResult, bool, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	matches, degraded, err := s.rankChunks(ctx, text, opts)
	if err != nil {
		return nil, false, err
	}

	result := &KnowledgeQueryResult{}
	if len(matches) == 0 {
		return result, degraded, nil
	}

	docs, err := s.documents.List(ctx)
	if err != nil {
		return nil, false, err
	}
	byID := make(map[string]*domain.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	remaining := maxTokens
	var selected []ScoredChunk
	for _, m := range matches {
		cost := EstimateTokens(m.Chunk.Content)
		if cost > remaining {
			continue
		}
		selected = append(selected, m)
		result.TokenCount += cost
		remaining -= cost
	}

	var b strings.Builder
	if len(selected) > 0 {
		b.WriteString("### Context Information ###\n")
	}
	for _, m := range selected {
		doc := byID[m.Chunk.DocumentID]
		src := KnowledgeSource{
			DocumentID: m.Chunk.DocumentID,
			Section:    m.Chunk.Section,
			StartLine:  m.Chunk.StartLine,
			EndLine:    m.Chunk.EndLine,
			Score:      m.Score,
		}
		if doc != nil {
			src.DocumentName = doc.Name
			src.Path = doc.Path
			src.Type = doc.Type
			fmt.Fprintf(&b, "- %s: %s\n", doc.Type, doc.Path)
		}
		result.Sources = append(result.Sources, src)
		b.WriteString(m.Chunk.Content)
		b.WriteByte('\n')
	}
	result.Context = b.String()
	return result, false, nil
}

// rankChunks embeds the query and ranks stored chunks by similarity.
// Embedding failure yields no matches rather than an error; the second
// return reports that degradation.
func (s *KnowledgeBaseService) rankChunks(ctx context.Context, text string, opts KnowledgeQueryOptions) ([]ScoredChunk, bool, error) {
	queryVec, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		log.Printf("knowledge query degraded to empty results: %v", err)
		return nil, true, nil
	}

	chunks, err := s.documents.ListChunks(ctx, opts.DocumentIDs, opts.FileTypes)
	if err != nil {
		return nil, false, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	candidates := make([]similarity.Candidate, 0, len(chunks))
	for _, c := range chunks {
		candidates = append(candidates, similarity.Candidate{ID: c.ID, Vector: c.Embedding, Payload: c})
	}
	matches, err := similarity.Rank(queryVec, candidates, limit, opts.MinScore)
	if err != nil {
		return nil, false, err
	}

	scored := make([]ScoredChunk, len(matches))
	for i, m := range matches {
		scored[i] = ScoredChunk{Chunk: m.Payload.(*domain.DocumentChunk), Score: m.Score}
	}
	return scored, false, nil
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func contentTypeFor(t domain.DocumentType) string {
	switch t {
	case domain.DocumentTypeMarkdown:
		return "text/markdown"
	default:
		return "text/plain"
	}
}

func firstLine(text string, maxRunes int) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > maxRunes {
			return string(runes[:maxRunes])
		}
		return line
	}
	return ""
}

// extractKeywords picks the most frequent meaningful tokens from the text.
func extractKeywords(text string, limit int) []string {
	counts := map[string]int{}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}\"'`#*->=")
		if len(tok) < 4 || stopwords[tok] {
			continue
		}
		counts[tok]++
	}

	type kv struct {
		word  string
		count int
	}
	ranked := make([]kv, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, kv{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	words := make([]string, len(ranked))
	for i, r := range ranked {
		words[i] = r.word
	}
	return words
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "your": true, "they": true, "their": true, "there": true,
	"which": true, "when": true, "then": true, "than": true, "these": true,
	"those": true, "were": true, "been": true, "into": true, "only": true,
	"also": true, "would": true, "could": true, "should": true, "about": true,
	"return": true, "func": true, "import": true, "package": true,
}
