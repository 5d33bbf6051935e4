package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loomchat/loom-memory/internal/domain"
)

// EmbeddingJobRepository handles persistence of embedding backfill jobs.
type EmbeddingJobRepository struct {
	db dbtx
}

func NewEmbeddingJobRepository(pool *pgxpool.Pool) *EmbeddingJobRepository {
	return &EmbeddingJobRepository{db: pool}
}

func NewEmbeddingJobRepositoryWithTx(tx pgx.Tx) *EmbeddingJobRepository {
	return &EmbeddingJobRepository{db: tx}
}

func (r *EmbeddingJobRepository) Create(ctx context.Context, job *domain.EmbeddingJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO embedding_jobs (id, fact_id, document_id, status, retries, error, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, nullableString(job.FactID), nullableString(job.DocumentID),
		job.Status, job.Retries, job.Error, job.CreatedAt, job.ProcessedAt,
	)
	if err != nil {
		return domain.NewStorageError("embedding job insert", err)
	}
	return nil
}

func (r *EmbeddingJobRepository) GetByID(ctx context.Context, id string) (*domain.EmbeddingJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, fact_id, document_id, status, retries, error, created_at, processed_at
		 FROM embedding_jobs WHERE id = $1`,
		id,
	)
	job, err := scanEmbeddingJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEmbeddingJobNotFound
		}
		return nil, domain.NewStorageError("embedding job get", err)
	}
	return job, nil
}

// ClaimPending atomically claims up to limit pending jobs, oldest first,
// marking them processing so concurrent workers never double-claim.
func (r *EmbeddingJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.EmbeddingJob, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM embedding_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE embedding_jobs
		 SET status = $3
		 FROM cte
		 WHERE embedding_jobs.id = cte.id
		 RETURNING embedding_jobs.id, fact_id, document_id, status, retries, error, created_at, processed_at`,
		domain.EmbeddingJobStatusPending, limit, domain.EmbeddingJobStatusProcessing,
	)
	if err != nil {
		return nil, domain.NewStorageError("embedding job claim", err)
	}
	defer rows.Close()

	var jobs []*domain.EmbeddingJob
	for rows.Next() {
		job, err := scanEmbeddingJob(rows)
		if err != nil {
			return nil, domain.NewStorageError("embedding job scan", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("embedding job scan", err)
	}
	return jobs, nil
}

func (r *EmbeddingJobRepository) UpdateStatus(ctx context.Context, jobID string, status domain.EmbeddingJobStatus, errMsg string) error {
	processedAt := time.Now().UTC()
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE embedding_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, errMsg, processedAt, jobID,
	)
	if err != nil {
		return domain.NewStorageError("embedding job update", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrEmbeddingJobNotFound
	}
	return nil
}

func (r *EmbeddingJobRepository) IncrementRetries(ctx context.Context, jobID string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE embedding_jobs SET retries = retries + 1 WHERE id = $1`,
		jobID,
	)
	if err != nil {
		return domain.NewStorageError("embedding job update", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrEmbeddingJobNotFound
	}
	return nil
}

func scanEmbeddingJob(row pgx.Row) (*domain.EmbeddingJob, error) {
	var job domain.EmbeddingJob
	var factID, documentID, errMsg pgtype.Text
	if err := row.Scan(&job.ID, &factID, &documentID, &job.Status, &job.Retries,
		&errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
		return nil, err
	}
	if factID.Valid {
		job.FactID = factID.String
	}
	if documentID.Valid {
		job.DocumentID = documentID.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}
