package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEmbeddingJobRepository is a mock implementation of EmbeddingJobRepository
type MockEmbeddingJobRepository struct {
	mock.Mock
}

func (m *MockEmbeddingJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.EmbeddingJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EmbeddingJob), args.Error(1)
}

func (m *MockEmbeddingJobRepository) UpdateStatus(ctx context.Context, jobID string, status domain.EmbeddingJobStatus, errMsg string) error {
	args := m.Called(ctx, jobID, status, errMsg)
	return args.Error(0)
}

func (m *MockEmbeddingJobRepository) IncrementRetries(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// MockFactEmbeddingRepository is a mock implementation of FactEmbeddingRepository
type MockFactEmbeddingRepository struct {
	mock.Mock
}

func (m *MockFactEmbeddingRepository) GetByID(ctx context.Context, id string) (*domain.MemoryFact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MemoryFact), args.Error(1)
}

func (m *MockFactEmbeddingRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	args := m.Called(ctx, id, embedding)
	return args.Error(0)
}

// MockChunkEmbeddingRepository is a mock implementation of ChunkEmbeddingRepository
type MockChunkEmbeddingRepository struct {
	mock.Mock
}

func (m *MockChunkEmbeddingRepository) ListChunksMissingEmbedding(ctx context.Context, documentID string) ([]*domain.DocumentChunk, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DocumentChunk), args.Error(1)
}

func (m *MockChunkEmbeddingRepository) UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	args := m.Called(ctx, chunkID, embedding)
	return args.Error(0)
}

// stubEmbedder returns a fixed vector, or an error when failing.
type stubEmbedder struct {
	vec  []float32
	fail bool
}

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("backend unavailable")
	}
	return s.vec, nil
}

func (s *stubEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if s.fail {
		return nil, errors.New("backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func newEmbeddingWorkerMocks() (*MockEmbeddingJobRepository, *MockFactEmbeddingRepository, *MockChunkEmbeddingRepository) {
	return new(MockEmbeddingJobRepository), new(MockFactEmbeddingRepository), new(MockChunkEmbeddingRepository)
}

func TestEmbeddingWorker_ProcessJobs(t *testing.T) {
	ctx := context.Background()
	vec := []float32{0.1, 0.2}

	t.Run("no pending jobs is a no-op", func(t *testing.T) {
		jobs, facts, chunks := newEmbeddingWorkerMocks()
		jobs.On("ClaimPending", ctx, claimBatchSize).Return([]*domain.EmbeddingJob{}, nil)

		w := NewEmbeddingWorker(jobs, facts, chunks, &stubEmbedder{vec: vec})
		require.NoError(t, w.ProcessJobs(ctx))
		jobs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("claim failure propagates", func(t *testing.T) {
		jobs, facts, chunks := newEmbeddingWorkerMocks()
		jobs.On("ClaimPending", ctx, claimBatchSize).Return(nil, errors.New("db down"))

		w := NewEmbeddingWorker(jobs, facts, chunks, &stubEmbedder{vec: vec})
		assert.Error(t, w.ProcessJobs(ctx))
	})

	t.Run("backfills a fact and completes the job", func(t *testing.T) {
		jobs, facts, chunks := newEmbeddingWorkerMocks()
		jobs.On("ClaimPending", ctx, claimBatchSize).Return([]*domain.EmbeddingJob{
			{ID: "j1", FactID: "f1", Status: domain.EmbeddingJobStatusProcessing},
		}, nil)
		facts.On("GetByID", ctx, "f1").Return(&domain.MemoryFact{ID: "f1", Content: "needs a vector"}, nil)
		facts.On("UpdateEmbedding", ctx, "f1", vec).Return(nil)
		jobs.On("UpdateStatus", ctx, "j1", domain.EmbeddingJobStatusCompleted, "").Return(nil)

		w := NewEmbeddingWorker(jobs, facts, chunks, &stubEmbedder{vec: vec})
		require.NoError(t, w.ProcessJobs(ctx))
		facts.AssertExpectations(t)
		jobs.AssertExpectations(t)
	})

	t.Run("fact already embedded completes without writing", func(t *testing.T) {
		jobs, facts, chunks := newEmbeddingWorkerMocks()
		jobs.On("ClaimPending", ctx, claimBatchSize).Return([]*domain.EmbeddingJob{
			{ID: "j1", FactID: "f1"},
		}, nil)
		facts.On("GetByID", ctx, "f1").Return(&domain.MemoryFact{ID: "f1", Content: "done", Embedding: vec}, nil)
		jobs.On("UpdateStatus", ctx, "j1", domain.EmbeddingJobStatusCompleted, "").Return(nil)

		w := NewEmbeddingWorker(jobs, facts, chunks, &stubEmbedder{vec: vec})
		require.NoError(t, w.ProcessJobs(ctx))
		facts.AssertNotCalled(t, "UpdateEmbedding", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("backfills every chunk missing a vector", func(t *testing.T) {
		jobs, facts, chunks := newEmbeddingWorkerMocks()
		jobs.On("ClaimPending", ctx, claimBatchSize).Return([]*domain.EmbeddingJob{
			{ID: "j1", DocumentID: "d1"},
		}, nil)
		chunks.On("ListChunksMissingEmbedding", ctx, "d1").Return([]*domain.DocumentChunk{
			{ID: "c1", Content: "first"},
			{ID: "c2", Content: "second"},
		}, nil)
		chunks.On("UpdateChunkEmbedding", ctx, "c1", vec).Return(nil)
		chunks.On("UpdateChunkEmbedding", ctx, "c2", vec).Return(nil)
		jobs.On("UpdateStatus", ctx, "j1", domain.EmbeddingJobStatusCompleted, "").Return(nil)

		w := NewEmbeddingWorker(jobs, facts, chunks, &stubEmbedder{vec: vec})
		require.NoError(t, w.ProcessJobs(ctx))
		chunks.AssertExpectations(t)
	})

	t.Run("failed job under the retry cap goes back to pending", func(t *testing.T) {
		jobs, facts, chunks := newEmbeddingWorkerMocks()
		jobs.On("ClaimPending", ctx, claimBatchSize).Return([]*domain.EmbeddingJob{
			{ID: "j1", FactID: "f1", Retries: 0},
		}, nil)
		facts.On("GetByID", ctx, "f1").Return(&domain.MemoryFact{ID: "f1", Content: "try again"}, nil)
		jobs.On("IncrementRetries", ctx, "j1").Return(nil)
		jobs.On("UpdateStatus", ctx, "j1", domain.EmbeddingJobStatusPending, mock.MatchedBy(func(msg string) bool {
			return msg != ""
		})).Return(nil)

		w := NewEmbeddingWorker(jobs, facts, chunks, &stubEmbedder{fail: true})
		require.NoError(t, w.ProcessJobs(ctx))
		jobs.AssertExpectations(t)
	})

	t.Run("failed job at the retry cap is marked failed", func(t *testing.T) {
		jobs, facts, chunks := newEmbeddingWorkerMocks()
		jobs.On("ClaimPending", ctx, claimBatchSize).Return([]*domain.EmbeddingJob{
			{ID: "j1", FactID: "f1", Retries: MaxRetries - 1},
		}, nil)
		facts.On("GetByID", ctx, "f1").Return(&domain.MemoryFact{ID: "f1", Content: "give up"}, nil)
		jobs.On("IncrementRetries", ctx, "j1").Return(nil)
		jobs.On("UpdateStatus", ctx, "j1", domain.EmbeddingJobStatusFailed, mock.MatchedBy(func(msg string) bool {
			return msg != ""
		})).Return(nil)

		w := NewEmbeddingWorker(jobs, facts, chunks, &stubEmbedder{fail: true})
		require.NoError(t, w.ProcessJobs(ctx))
		jobs.AssertExpectations(t)
	})

	t.Run("one failing job does not block the batch", func(t *testing.T) {
		jobs, facts, chunks := newEmbeddingWorkerMocks()
		jobs.On("ClaimPending", ctx, claimBatchSize).Return([]*domain.EmbeddingJob{
			{ID: "bad", FactID: "missing"},
			{ID: "good", FactID: "f2"},
		}, nil)
		facts.On("GetByID", ctx, "missing").Return(nil, domain.ErrFactNotFound)
		jobs.On("IncrementRetries", ctx, "bad").Return(nil)
		jobs.On("UpdateStatus", ctx, "bad", domain.EmbeddingJobStatusPending, mock.Anything).Return(nil)

		facts.On("GetByID", ctx, "f2").Return(&domain.MemoryFact{ID: "f2", Content: "fine"}, nil)
		facts.On("UpdateEmbedding", ctx, "f2", vec).Return(nil)
		jobs.On("UpdateStatus", ctx, "good", domain.EmbeddingJobStatusCompleted, "").Return(nil)

		w := NewEmbeddingWorker(jobs, facts, chunks, &stubEmbedder{vec: vec})
		require.NoError(t, w.ProcessJobs(ctx))
		jobs.AssertExpectations(t)
	})
}
