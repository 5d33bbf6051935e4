package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/loomchat/loom-memory/internal/pagination"
	"github.com/loomchat/loom-memory/internal/service"
	"github.com/pgvector/pgvector-go"
)

// FactRepository handles persistence of memory facts.
type FactRepository struct {
	db dbtx
}

func NewFactRepository(pool *pgxpool.Pool) *FactRepository {
	return &FactRepository{db: pool}
}

func NewFactRepositoryWithTx(tx pgx.Tx) *FactRepository {
	return &FactRepository{db: tx}
}

const factColumns = `id, conversation_id, content, source, ts, relevance_score, tags, embedding, verified, message_refs`

func (r *FactRepository) Create(ctx context.Context, f *domain.MemoryFact) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO memory_facts (id, conversation_id, content, source, ts, relevance_score, tags, embedding, verified, message_refs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.ConversationID, f.Content, f.Source, f.Timestamp, f.RelevanceScore,
		f.Tags, embeddingArg(f.Embedding), f.Verified, f.References,
	)
	if err != nil {
		return domain.NewStorageError("fact insert", err)
	}
	return nil
}

func (r *FactRepository) GetByID(ctx context.Context, id string) (*domain.MemoryFact, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+factColumns+` FROM memory_facts WHERE id = $1`, id)
	f, err := scanFact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrFactNotFound
		}
		return nil, domain.NewStorageError("fact get", err)
	}
	return f, nil
}

// ListByConversation returns facts ordered by relevance score descending,
// then timestamp descending. Never insertion order.
func (r *FactRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.MemoryFact, error) {
	query := `SELECT ` + factColumns + ` FROM memory_facts
		 WHERE conversation_id = $1
		 ORDER BY relevance_score DESC, ts DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("fact list", err)
	}
	defer rows.Close()
	return scanFactRows(rows)
}

func (r *FactRepository) ListByConversationWithCursor(ctx context.Context, conversationID string, cursor *pagination.Cursor, limit int) (*service.FactPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+factColumns+` FROM memory_facts
			 WHERE conversation_id = $1 AND (ts, id) < ($2, $3)
			 ORDER BY ts DESC, id DESC
			 LIMIT $4`,
			conversationID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+factColumns+` FROM memory_facts
			 WHERE conversation_id = $1
			 ORDER BY ts DESC, id DESC
			 LIMIT $2`,
			conversationID, limit+1,
		)
	}
	if err != nil {
		return nil, domain.NewStorageError("fact list", err)
	}
	defer rows.Close()

	items, err := scanFactRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.Timestamp)
	}

	return &service.FactPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// Update applies an in-place partial update. An empty update is a no-op.
func (r *FactRepository) Update(ctx context.Context, id string, update service.FactUpdate) error {
	if update.IsZero() {
		return nil
	}

	set := ""
	args := []any{}
	add := func(col string, val any) {
		if set != "" {
			set += ", "
		}
		args = append(args, val)
		set += col + " = $" + strconv.Itoa(len(args))
	}
	if update.Content != nil {
		add("content", *update.Content)
	}
	if update.RelevanceScore != nil {
		add("relevance_score", *update.RelevanceScore)
	}
	if update.Tags != nil {
		add("tags", update.Tags)
	}
	if update.Verified != nil {
		add("verified", *update.Verified)
	}
	args = append(args, id)

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE memory_facts SET `+set+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return domain.NewStorageError("fact update", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrFactNotFound
	}
	return nil
}

func (r *FactRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE memory_facts SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), id,
	)
	if err != nil {
		return domain.NewStorageError("fact embedding update", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrFactNotFound
	}
	return nil
}

func (r *FactRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM memory_facts WHERE id = $1`, id)
	if err != nil {
		return domain.NewStorageError("fact delete", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrFactNotFound
	}
	return nil
}

// Search matches the query as a case-insensitive substring of fact content,
// with optional relevance, time-range, tag and source filters.
func (r *FactRepository) Search(ctx context.Context, conversationID string, q service.MemorySearchQuery) ([]*domain.MemoryFact, error) {
	query := `SELECT ` + factColumns + ` FROM memory_facts
		 WHERE conversation_id = $1 AND content ILIKE $2`
	args := []any{conversationID, "%" + q.Query + "%"}

	if q.MinRelevance > 0 {
		args = append(args, q.MinRelevance)
		query += ` AND relevance_score >= $` + strconv.Itoa(len(args))
	}
	if q.Since != nil {
		args = append(args, *q.Since)
		query += ` AND ts >= $` + strconv.Itoa(len(args))
	}
	if q.Until != nil {
		args = append(args, *q.Until)
		query += ` AND ts <= $` + strconv.Itoa(len(args))
	}
	if len(q.Tags) > 0 {
		args = append(args, q.Tags)
		query += ` AND tags && $` + strconv.Itoa(len(args))
	}
	if q.Source != "" {
		args = append(args, q.Source)
		query += ` AND source = $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY relevance_score DESC, ts DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("fact search", err)
	}
	defer rows.Close()
	return scanFactRows(rows)
}

// DeleteOlderThan removes facts from one conversation whose timestamp is
// before the cutoff. Other conversations are never touched.
func (r *FactRepository) DeleteOlderThan(ctx context.Context, conversationID string, cutoff time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM memory_facts WHERE conversation_id = $1 AND ts < $2`,
		conversationID, cutoff,
	)
	if err != nil {
		return 0, domain.NewStorageError("fact cleanup", err)
	}
	return cmdTag.RowsAffected(), nil
}

func (r *FactRepository) Stats(ctx context.Context, conversationID string) (*domain.MemoryStats, error) {
	stats := &domain.MemoryStats{ConversationID: conversationID}
	var avg *float64
	var oldest, newest *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), AVG(relevance_score), MIN(ts), MAX(ts)
		 FROM memory_facts WHERE conversation_id = $1`,
		conversationID,
	).Scan(&stats.FactCount, &avg, &oldest, &newest)
	if err != nil {
		return nil, domain.NewStorageError("fact stats", err)
	}
	if avg != nil {
		stats.AvgRelevance = *avg
	}
	stats.OldestFact = oldest
	stats.NewestFact = newest
	return stats, nil
}

func scanFact(row pgx.Row) (*domain.MemoryFact, error) {
	var f domain.MemoryFact
	var vec *pgvector.Vector
	if err := row.Scan(&f.ID, &f.ConversationID, &f.Content, &f.Source, &f.Timestamp,
		&f.RelevanceScore, &f.Tags, &vec, &f.Verified, &f.References); err != nil {
		return nil, err
	}
	if vec != nil {
		f.Embedding = vec.Slice()
	}
	return &f, nil
}

func scanFactRows(rows pgx.Rows) ([]*domain.MemoryFact, error) {
	var results []*domain.MemoryFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, domain.NewStorageError("fact scan", err)
		}
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("fact scan", err)
	}
	return results, nil
}

// embeddingArg converts an optional embedding to an insert argument, NULL
// when the vector has not been computed yet.
func embeddingArg(embedding []float32) any {
	if embedding == nil {
		return nil
	}
	return pgvector.NewVector(embedding)
}
