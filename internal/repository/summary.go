package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/service"
	"github.com/pgvector/pgvector-go"
)

// SummaryRepository handles persistence of conversation summaries.
type SummaryRepository struct {
	db dbtx
}

func NewSummaryRepository(pool *pgxpool.Pool) *SummaryRepository {
	return &SummaryRepository{db: pool}
}

func NewSummaryRepositoryWithTx(tx pgx.Tx) *SummaryRepository {
	return &SummaryRepository{db: tx}
}

const summaryColumns = `id, conversation_id, range_start, range_end, summary, key_points, participants, message_count, embedding, created_by, created_at`

func (r *SummaryRepository) Create(ctx context.Context, s *domain.ConversationSummary) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO conversation_summaries (id, conversation_id, range_start, range_end, summary, key_points, participants, message_count, embedding, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.ConversationID, s.TimeRange.Start, s.TimeRange.End, s.Summary,
		s.KeyPoints, s.Participants, s.MessageCount, embeddingArg(s.Embedding), s.CreatedBy, s.CreatedAt,
	)
	if err != nil {
		return domain.NewStorageError("summary insert", err)
	}
	return nil
}

// ListByConversation returns summaries ordered by range start descending.
func (r *SummaryRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.ConversationSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM conversation_summaries
		 WHERE conversation_id = $1
		 ORDER BY range_start DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("summary list", err)
	}
	defer rows.Close()
	return scanSummaryRows(rows)
}

func (r *SummaryRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM conversation_summaries WHERE id = $1`, id)
	if err != nil {
		return domain.NewStorageError("summary delete", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSummaryNotFound
	}
	return nil
}

func (r *SummaryRepository) Search(ctx context.Context, conversationID string, q service.MemorySearchQuery) ([]*domain.ConversationSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM conversation_summaries
		 WHERE conversation_id = $1 AND summary ILIKE $2`
	args := []any{conversationID, "%" + q.Query + "%"}

	if q.Since != nil {
		args = append(args, *q.Since)
		query += ` AND range_end >= $` + strconv.Itoa(len(args))
	}
	if q.Until != nil {
		args = append(args, *q.Until)
		query += ` AND range_start <= $` + strconv.Itoa(len(args))
	}
	if q.Source != "" {
		args = append(args, q.Source)
		query += ` AND created_by = $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY range_start DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("summary search", err)
	}
	defer rows.Close()
	return scanSummaryRows(rows)
}

// DeleteOlderThan removes summaries whose range end is before the cutoff.
func (r *SummaryRepository) DeleteOlderThan(ctx context.Context, conversationID string, cutoff time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM conversation_summaries WHERE conversation_id = $1 AND range_end < $2`,
		conversationID, cutoff,
	)
	if err != nil {
		return 0, domain.NewStorageError("summary cleanup", err)
	}
	return cmdTag.RowsAffected(), nil
}

func (r *SummaryRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_summaries WHERE conversation_id = $1`,
		conversationID,
	).Scan(&count)
	if err != nil {
		return 0, domain.NewStorageError("summary count", err)
	}
	return count, nil
}

func scanSummaryRows(rows pgx.Rows) ([]*domain.ConversationSummary, error) {
	var results []*domain.ConversationSummary
	for rows.Next() {
		var s domain.ConversationSummary
		var vec *pgvector.Vector
		if err := rows.Scan(&s.ID, &s.ConversationID, &s.TimeRange.Start, &s.TimeRange.End,
			&s.Summary, &s.KeyPoints, &s.Participants, &s.MessageCount, &vec, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, domain.NewStorageError("summary scan", err)
		}
		if vec != nil {
			s.Embedding = vec.Slice()
		}
		results = append(results, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("summary scan", err)
	}
	return results, nil
}
