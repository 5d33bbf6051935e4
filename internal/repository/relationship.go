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

// RelationshipRepository handles persistence of entity relationships.
type RelationshipRepository struct {
	db dbtx
}

func NewRelationshipRepository(pool *pgxpool.Pool) *RelationshipRepository {
	return &RelationshipRepository{db: pool}
}

func NewRelationshipRepositoryWithTx(tx pgx.Tx) *RelationshipRepository {
	return &RelationshipRepository{db: tx}
}

const relationshipColumns = `id, conversation_id, source_entity, target_entity, relationship_type, confidence, evidence, embedding, created_by, created_at`

func (r *RelationshipRepository) Create(ctx context.Context, rel *domain.EntityRelationship) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO entity_relationships (id, conversation_id, source_entity, target_entity, relationship_type, confidence, evidence, embedding, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rel.ID, rel.ConversationID, rel.SourceEntity, rel.TargetEntity, rel.Type,
		rel.Confidence, rel.Evidence, embeddingArg(rel.Embedding), rel.CreatedBy, rel.CreatedAt,
	)
	if err != nil {
		return domain.NewStorageError("relationship insert", err)
	}
	return nil
}

// ListByConversation returns relationships ordered by confidence descending,
// then creation time descending.
func (r *RelationshipRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.EntityRelationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM entity_relationships
		 WHERE conversation_id = $1
		 ORDER BY confidence DESC, created_at DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("relationship list", err)
	}
	defer rows.Close()
	return scanRelationshipRows(rows)
}

func (r *RelationshipRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM entity_relationships WHERE id = $1`, id)
	if err != nil {
		return domain.NewStorageError("relationship delete", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrRelationshipNotFound
	}
	return nil
}

func (r *RelationshipRepository) Search(ctx context.Context, conversationID string, q service.MemorySearchQuery) ([]*domain.EntityRelationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM entity_relationships
		 WHERE conversation_id = $1 AND (source_entity ILIKE $2 OR target_entity ILIKE $2 OR relationship_type ILIKE $2)`
	args := []any{conversationID, "%" + q.Query + "%"}

	if q.MinRelevance > 0 {
		args = append(args, q.MinRelevance)
		query += ` AND confidence >= $` + strconv.Itoa(len(args))
	}
	if q.Since != nil {
		args = append(args, *q.Since)
		query += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if q.Until != nil {
		args = append(args, *q.Until)
		query += ` AND created_at <= $` + strconv.Itoa(len(args))
	}
	if q.Source != "" {
		args = append(args, q.Source)
		query += ` AND created_by = $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY confidence DESC, created_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("relationship search", err)
	}
	defer rows.Close()
	return scanRelationshipRows(rows)
}

// DeleteOlderThan removes relationships created before the cutoff.
func (r *RelationshipRepository) DeleteOlderThan(ctx context.Context, conversationID string, cutoff time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM entity_relationships WHERE conversation_id = $1 AND created_at < $2`,
		conversationID, cutoff,
	)
	if err != nil {
		return 0, domain.NewStorageError("relationship cleanup", err)
	}
	return cmdTag.RowsAffected(), nil
}

func (r *RelationshipRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM entity_relationships WHERE conversation_id = $1`,
		conversationID,
	).Scan(&count)
	if err != nil {
		return 0, domain.NewStorageError("relationship count", err)
	}
	return count, nil
}

func scanRelationshipRows(rows pgx.Rows) ([]*domain.EntityRelationship, error) {
	var results []*domain.EntityRelationship
	for rows.Next() {
		var rel domain.EntityRelationship
		var vec *pgvector.Vector
		if err := rows.Scan(&rel.ID, &rel.ConversationID, &rel.SourceEntity, &rel.TargetEntity,
			&rel.Type, &rel.Confidence, &rel.Evidence, &vec, &rel.CreatedBy, &rel.CreatedAt); err != nil {
			return nil, domain.NewStorageError("relationship scan", err)
		}
		if vec != nil {
			rel.Embedding = vec.Slice()
		}
		results = append(results, &rel)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("relationship scan", err)
	}
	return results, nil
}
