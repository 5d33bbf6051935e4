package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loomchat/loom-memory/internal/domain"
)

// ConversationRepository handles the parent rows that scope all memory
// items. Deleting a conversation cascades to its facts, summaries and
// relationships.
type ConversationRepository struct {
	db dbtx
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: pool}
}

// Ensure creates the conversation row if it does not exist yet.
func (r *ConversationRepository) Ensure(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at)
		 VALUES ($1, '', $2, $2)
		 ON CONFLICT (id) DO NOTHING`,
		id, now,
	)
	if err != nil {
		return domain.NewStorageError("conversation ensure", err)
	}
	return nil
}

// Touch advances the conversation's updated timestamp. Callers invoke this
// after mutating memory; the item repositories stay single-purpose.
func (r *ConversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return domain.NewStorageError("conversation touch", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

// List returns every conversation, most recently updated first.
func (r *ConversationRepository) List(ctx context.Context) ([]*domain.Conversation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, domain.NewStorageError("conversation list", err)
	}
	defer rows.Close()

	var results []*domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, domain.NewStorageError("conversation scan", err)
		}
		results = append(results, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("conversation scan", err)
	}
	return results, nil
}

func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return domain.NewStorageError("conversation delete", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
