package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/loomchat/loom-memory/internal/domain"
)

const (
	// MaxRetries is the maximum number of retries for a failed job
	MaxRetries = 3

	// claimBatchSize bounds how many jobs one poll claims.
	claimBatchSize = 50
)

// EmbeddingJobRepository defines the interface for embedding job persistence
type EmbeddingJobRepository interface {
	// ClaimPending atomically claims pending jobs, marking them processing.
	ClaimPending(ctx context.Context, limit int) ([]*domain.EmbeddingJob, error)

	// UpdateStatus updates the status of an embedding job
	UpdateStatus(ctx context.Context, jobID string, status domain.EmbeddingJobStatus, errMsg string) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, jobID string) error
}

// FactEmbeddingRepository is the fact persistence surface the worker needs.
type FactEmbeddingRepository interface {
	GetByID(ctx context.Context, id string) (*domain.MemoryFact, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

// ChunkEmbeddingRepository is the chunk persistence surface the worker needs.
type ChunkEmbeddingRepository interface {
	ListChunksMissingEmbedding(ctx context.Context, documentID string) ([]*domain.DocumentChunk, error)
	UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error
}

// Embedder generates vectors for backfill.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingWorker backfills vectors for facts and document chunks that were
// persisted while the embedding backend was unavailable.
type EmbeddingWorker struct {
	jobs     EmbeddingJobRepository
	facts    FactEmbeddingRepository
	chunks   ChunkEmbeddingRepository
	embedder Embedder
}

// NewEmbeddingWorker creates a new EmbeddingWorker instance
func NewEmbeddingWorker(
	jobs EmbeddingJobRepository,
	facts FactEmbeddingRepository,
	chunks ChunkEmbeddingRepository,
	embedder Embedder,
) *EmbeddingWorker {
	return &EmbeddingWorker{
		jobs:     jobs,
		facts:    facts,
		chunks:   chunks,
		embedder: embedder,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *EmbeddingWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.jobs.ClaimPending(ctx, claimBatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d pending embedding jobs", len(jobs))

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("Error processing job %s: %v", job.ID, err)
		}
	}

	return nil
}

func (w *EmbeddingWorker) processJob(ctx context.Context, job *domain.EmbeddingJob) error {
	var err error
	switch {
	case job.FactID != "":
		err = w.backfillFact(ctx, job.FactID)
	case job.DocumentID != "":
		err = w.backfillDocument(ctx, job.DocumentID)
	default:
		return fmt.Errorf("job %s has neither fact_id nor document_id", job.ID)
	}

	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.jobs.UpdateStatus(ctx, job.ID, domain.EmbeddingJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("Job %s completed successfully", job.ID)
	return nil
}

func (w *EmbeddingWorker) backfillFact(ctx context.Context, factID string) error {
	fact, err := w.facts.GetByID(ctx, factID)
	if err != nil {
		return err
	}
	if fact.Embedding != nil {
		return nil
	}
	vec, err := w.embedder.GenerateEmbedding(ctx, domain.FactSalientText(fact))
	if err != nil {
		return err
	}
	return w.facts.UpdateEmbedding(ctx, factID, vec)
}

func (w *EmbeddingWorker) backfillDocument(ctx context.Context, documentID string) error {
	chunks, err := w.chunks.ListChunksMissingEmbedding(ctx, documentID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := w.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return err
	}
	for i, c := range chunks {
		if err := w.chunks.UpdateChunkEmbedding(ctx, c.ID, vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

// handleJobFailure handles a failed job with retry logic
func (w *EmbeddingWorker) handleJobFailure(ctx context.Context, job *domain.EmbeddingJob, jobErr error) error {
	log.Printf("Job %s failed: %v", job.ID, jobErr)

	if err := w.jobs.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		log.Printf("Job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.jobs.UpdateStatus(ctx, job.ID, domain.EmbeddingJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Printf("Job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.jobs.UpdateStatus(ctx, job.ID, domain.EmbeddingJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
