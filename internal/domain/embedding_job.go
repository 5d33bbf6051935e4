package domain

import (
	"fmt"
	"time"
)

// EmbeddingJobStatus represents the status of an embedding backfill job
type EmbeddingJobStatus string

const (
	EmbeddingJobStatusPending    EmbeddingJobStatus = "pending"
	EmbeddingJobStatusProcessing EmbeddingJobStatus = "processing"
	EmbeddingJobStatusCompleted  EmbeddingJobStatus = "completed"
	EmbeddingJobStatusFailed     EmbeddingJobStatus = "failed"
)

// EmbeddingJob records a memory item or document chunk persisted without a
// vector (the embedding backend was unavailable at add time). A background
// worker retries these until the vector is in place.
type EmbeddingJob struct {
	ID          string
	FactID      string // set for fact embeddings
	DocumentID  string // set for document chunk embeddings
	Status      EmbeddingJobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ValidateEmbeddingJob validates an EmbeddingJob instance
func ValidateEmbeddingJob(j *EmbeddingJob) error {
	if j == nil {
		return fmt.Errorf("embedding job cannot be nil")
	}
	if j.ID == "" {
		return fmt.Errorf("embedding job ID is required")
	}
	if j.FactID == "" && j.DocumentID == "" {
		return fmt.Errorf("embedding job must have either FactID or DocumentID")
	}
	if j.FactID != "" && j.DocumentID != "" {
		return fmt.Errorf("embedding job cannot have both FactID and DocumentID")
	}
	if !isValidEmbeddingJobStatus(j.Status) {
		return fmt.Errorf("embedding job Status is invalid: %s", j.Status)
	}
	if j.Retries < 0 {
		return fmt.Errorf("embedding job Retries cannot be negative")
	}
	return nil
}

func isValidEmbeddingJobStatus(s EmbeddingJobStatus) bool {
	switch s {
	case EmbeddingJobStatusPending, EmbeddingJobStatusProcessing,
		EmbeddingJobStatusCompleted, EmbeddingJobStatusFailed:
		return true
	}
	return false
}
