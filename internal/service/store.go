package service

import (
	"context"
	"time"

	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/pagination"
)

// MemorySearchType selects which item kinds a text search covers.
type MemorySearchType string

const (
	SearchFacts         MemorySearchType = "facts"
	SearchSummaries     MemorySearchType = "summaries"
	SearchRelationships MemorySearchType = "relationships"
	SearchAll           MemorySearchType = "all"
)

// MemorySearchQuery is a case-insensitive substring search over memory
// items with optional filters.
type MemorySearchQuery struct {
	Query        string
	Type         MemorySearchType
	MinRelevance float64
	Since        *time.Time
	Until        *time.Time
	Tags         []string
	Source       string
	Limit        int
}

// MemorySearchResult bundles matches across item kinds with timing metadata.
type MemorySearchResult struct {
	Facts         []*domain.MemoryFact
	Summaries     []*domain.ConversationSummary
	Relationships []*domain.EntityRelationship
	TotalCount    int
	Elapsed       time.Duration
}

// FactUpdate carries the optional fields of an in-place fact update. Nil
// fields are left untouched; an update with no fields set is a no-op.
type FactUpdate struct {
	Content        *string
	RelevanceScore *float64
	Tags           []string
	Verified       *bool
}

// IsZero reports whether the update carries no fields.
func (u FactUpdate) IsZero() bool {
	return u.Content == nil && u.RelevanceScore == nil && u.Tags == nil && u.Verified == nil
}

// FactPageResult is one cursor page of facts.
type FactPageResult struct {
	Items      []*domain.MemoryFact
	NextCursor string
	HasMore    bool
}

// FactRepositoryInterface defines the repository interface for fact persistence
type FactRepositoryInterface interface {
	Create(ctx context.Context, f *domain.MemoryFact) error
	GetByID(ctx context.Context, id string) (*domain.MemoryFact, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.MemoryFact, error)
	ListByConversationWithCursor(ctx context.Context, conversationID string, cursor *pagination.Cursor, limit int) (*FactPageResult, error)
	Update(ctx context.Context, id string, update FactUpdate) error
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, conversationID string, q MemorySearchQuery) ([]*domain.MemoryFact, error)
	DeleteOlderThan(ctx context.Context, conversationID string, cutoff time.Time) (int64, error)
	Stats(ctx context.Context, conversationID string) (*domain.MemoryStats, error)
}

// SummaryRepositoryInterface defines the repository interface for summary persistence
type SummaryRepositoryInterface interface {
	Create(ctx context.Context, s *domain.ConversationSummary) error
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.ConversationSummary, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, conversationID string, q MemorySearchQuery) ([]*domain.ConversationSummary, error)
	DeleteOlderThan(ctx context.Context, conversationID string, cutoff time.Time) (int64, error)
	Count(ctx context.Context, conversationID string) (int64, error)
}

// RelationshipRepositoryInterface defines the repository interface for relationship persistence
type RelationshipRepositoryInterface interface {
	Create(ctx context.Context, r *domain.EntityRelationship) error
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.EntityRelationship, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, conversationID string, q MemorySearchQuery) ([]*domain.EntityRelationship, error)
	DeleteOlderThan(ctx context.Context, conversationID string, cutoff time.Time) (int64, error)
	Count(ctx context.Context, conversationID string) (int64, error)
}

// ConversationRepositoryInterface defines the repository interface for conversations
type ConversationRepositoryInterface interface {
	Ensure(ctx context.Context, id string) error
	Touch(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context) ([]*domain.Conversation, error)
	Delete(ctx context.Context, id string) error
}

// DocumentRepositoryInterface defines the repository interface for the document index
type DocumentRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByHash(ctx context.Context, hash string) (*domain.Document, error)
	List(ctx context.Context) ([]*domain.Document, error)
	Delete(ctx context.Context, id string) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.DocumentChunk) error
	ListChunks(ctx context.Context, documentIDs []string, fileTypes []domain.DocumentType) ([]*domain.DocumentChunk, error)
	UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error
	ListChunksMissingEmbedding(ctx context.Context, documentID string) ([]*domain.DocumentChunk, error)
}

// EmbeddingJobRepositoryInterface defines the repository interface for embedding backfill jobs
type EmbeddingJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.EmbeddingJob) error
}

// TxRepositories exposes transactional repositories inside WithTx.
type TxRepositories interface {
	Facts() FactRepositoryInterface
	Documents() DocumentRepositoryInterface
	EmbeddingJobs() EmbeddingJobRepositoryInterface
}

// TxRunnerInterface runs a function inside one database transaction.
type TxRunnerInterface interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
