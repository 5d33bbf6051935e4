package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/pagination"
	"github.com/stretchr/testify/mock"
)

// MockFactRepository is a mock implementation of FactRepositoryInterface
type MockFactRepository struct {
	mock.Mock
}

func (m *MockFactRepository) Create(ctx context.Context, f *domain.MemoryFact) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *MockFactRepository) GetByID(ctx context.Context, id string) (*domain.MemoryFact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MemoryFact), args.Error(1)
}

func (m *MockFactRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.MemoryFact, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MemoryFact), args.Error(1)
}

func (m *MockFactRepository) ListByConversationWithCursor(ctx context.Context, conversationID string, cursor *pagination.Cursor, limit int) (*FactPageResult, error) {
	args := m.Called(ctx, conversationID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FactPageResult), args.Error(1)
}

func (m *MockFactRepository) Update(ctx context.Context, id string, update FactUpdate) error {
	args := m.Called(ctx, id, update)
	return args.Error(0)
}

func (m *MockFactRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	args := m.Called(ctx, id, embedding)
	return args.Error(0)
}

func (m *MockFactRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockFactRepository) Search(ctx context.Context, conversationID string, q MemorySearchQuery) ([]*domain.MemoryFact, error) {
	args := m.Called(ctx, conversationID, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MemoryFact), args.Error(1)
}

func (m *MockFactRepository) DeleteOlderThan(ctx context.Context, conversationID string, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, conversationID, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFactRepository) Stats(ctx context.Context, conversationID string) (*domain.MemoryStats, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MemoryStats), args.Error(1)
}

// MockSummaryRepository is a mock implementation of SummaryRepositoryInterface
type MockSummaryRepository struct {
	mock.Mock
}

func (m *MockSummaryRepository) Create(ctx context.Context, s *domain.ConversationSummary) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockSummaryRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.ConversationSummary, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ConversationSummary), args.Error(1)
}

func (m *MockSummaryRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSummaryRepository) Search(ctx context.Context, conversationID string, q MemorySearchQuery) ([]*domain.ConversationSummary, error) {
	args := m.Called(ctx, conversationID, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ConversationSummary), args.Error(1)
}

func (m *MockSummaryRepository) DeleteOlderThan(ctx context.Context, conversationID string, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, conversationID, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSummaryRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

// MockRelationshipRepository is a mock implementation of RelationshipRepositoryInterface
type MockRelationshipRepository struct {
	mock.Mock
}

func (m *MockRelationshipRepository) Create(ctx context.Context, r *domain.EntityRelationship) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRelationshipRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.EntityRelationship, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EntityRelationship), args.Error(1)
}

func (m *MockRelationshipRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRelationshipRepository) Search(ctx context.Context, conversationID string, q MemorySearchQuery) ([]*domain.EntityRelationship, error) {
	args := m.Called(ctx, conversationID, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EntityRelationship), args.Error(1)
}

func (m *MockRelationshipRepository) DeleteOlderThan(ctx context.Context, conversationID string, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, conversationID, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRelationshipRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

// MockConversationRepository is a mock implementation of ConversationRepositoryInterface
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) Ensure(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockConversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockConversationRepository) List(ctx context.Context) ([]*domain.Conversation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockEmbeddingJobRepository is a mock implementation of EmbeddingJobRepositoryInterface
type MockEmbeddingJobRepository struct {
	mock.Mock
}

func (m *MockEmbeddingJobRepository) Create(ctx context.Context, job *domain.EmbeddingJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// MockDocumentRepository is a mock implementation of DocumentRepositoryInterface
type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) GetByHash(ctx context.Context, hash string) (*domain.Document, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) List(ctx context.Context) ([]*domain.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.DocumentChunk) error {
	args := m.Called(ctx, documentID, chunks)
	return args.Error(0)
}

func (m *MockDocumentRepository) ListChunks(ctx context.Context, documentIDs []string, fileTypes []domain.DocumentType) ([]*domain.DocumentChunk, error) {
	args := m.Called(ctx, documentIDs, fileTypes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DocumentChunk), args.Error(1)
}

func (m *MockDocumentRepository) UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	args := m.Called(ctx, chunkID, embedding)
	return args.Error(0)
}

func (m *MockDocumentRepository) ListChunksMissingEmbedding(ctx context.Context, documentID string) ([]*domain.DocumentChunk, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DocumentChunk), args.Error(1)
}

// stubTxRunner executes the function against the provided repositories
// without a real transaction.
type stubTxRunner struct {
	facts     FactRepositoryInterface
	documents DocumentRepositoryInterface
	jobs      EmbeddingJobRepositoryInterface
}

func (r *stubTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	return fn(r)
}

func (r *stubTxRunner) Facts() FactRepositoryInterface              { return r.facts }
func (r *stubTxRunner) Documents() DocumentRepositoryInterface      { return r.documents }
func (r *stubTxRunner) EmbeddingJobs() EmbeddingJobRepositoryInterface { return r.jobs }

// failingEmbedder always reports the backend as unavailable.
type failingEmbedder struct{}

func (failingEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding backend unavailable")
}

func (failingEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding backend unavailable")
}

// recoveringEmbedder fails a fixed number of calls, then delegates to the
// inner client, simulating a backend outage that ends.
type recoveringEmbedder struct {
	inner    EmbeddingClient
	failures int
}

func (e *recoveringEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if e.failures > 0 {
		e.failures--
		return nil, errors.New("embedding backend unavailable")
	}
	return e.inner.GenerateEmbedding(ctx, text)
}

func (e *recoveringEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if e.failures > 0 {
		e.failures--
		return nil, errors.New("embedding backend unavailable")
	}
	return e.inner.GenerateEmbeddings(ctx, texts)
}

// seqUUIDGenerator yields deterministic ids for assertions.
type seqUUIDGenerator struct {
	n int
}

func (g *seqUUIDGenerator) NewString() string {
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}
