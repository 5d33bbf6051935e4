package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loomchat/loom-memory/internal/domain"
	"github.com/pgvector/pgvector-go"
)

// DocumentRepository handles persistence of indexed documents and their
// embedded chunks.
type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

const documentColumns = `id, name, path, type, size, hash, keywords, language, summary, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (id, name, path, type, size, hash, keywords, language, summary, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.Name, d.Path, d.Type, d.Size, d.Hash, d.Keywords, nullableString(d.Language), d.Summary, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return domain.NewStorageError("document insert", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocumentRow(row, "document get")
}

// GetByHash resolves a content fingerprint to the document holding it.
// Identical file content always resolves to the same document id.
func (r *DocumentRepository) GetByHash(ctx context.Context, hash string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE hash = $1`, hash)
	return scanDocumentRow(row, "document get by hash")
}

func (r *DocumentRepository) List(ctx context.Context) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, domain.NewStorageError("document list", err)
	}
	defer rows.Close()

	var results []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, domain.NewStorageError("document scan", err)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("document scan", err)
	}
	return results, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return domain.NewStorageError("document delete", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// ReplaceChunks deletes existing chunks for a document and inserts new ones.
func (r *DocumentRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.DocumentChunk) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return domain.NewStorageError("chunk delete", err)
	}

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO document_chunks (id, document_id, chunk_index, content, section, start_line, end_line, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, c.DocumentID, c.ChunkIndex, c.Content, nullableString(c.Section),
			c.StartLine, c.EndLine, embeddingArg(c.Embedding), createdAt,
		)
		if err != nil {
			return domain.NewStorageError("chunk insert", err)
		}
	}
	return nil
}

// ListChunks returns chunks optionally restricted to document ids and file
// types, ordered by document and chunk index.
func (r *DocumentRepository) ListChunks(ctx context.Context, documentIDs []string, fileTypes []domain.DocumentType) ([]*domain.DocumentChunk, error) {
	query := `SELECT c.id, c.document_id, c.chunk_index, c.content, c.section, c.start_line, c.end_line, c.embedding, c.created_at
		 FROM document_chunks c
		 JOIN documents d ON d.id = c.document_id`
	var args []any
	where := ""
	if len(documentIDs) > 0 {
		args = append(args, documentIDs)
		where = ` WHERE c.document_id = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	if len(fileTypes) > 0 {
		types := make([]string, len(fileTypes))
		for i, t := range fileTypes {
			types[i] = string(t)
		}
		args = append(args, types)
		if where == "" {
			where = ` WHERE`
		} else {
			where += ` AND`
		}
		where += ` d.type = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	query += where + ` ORDER BY c.document_id, c.chunk_index`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("chunk list", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (r *DocumentRepository) UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE document_chunks SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), chunkID,
	)
	if err != nil {
		return domain.NewStorageError("chunk embedding update", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// ListChunksMissingEmbedding returns chunks of one document persisted
// without a vector, oldest first. Used by the backfill worker.
func (r *DocumentRepository) ListChunksMissingEmbedding(ctx context.Context, documentID string) ([]*domain.DocumentChunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, chunk_index, content, section, start_line, end_line, embedding, created_at
		 FROM document_chunks
		 WHERE document_id = $1 AND embedding IS NULL
		 ORDER BY chunk_index`,
		documentID,
	)
	if err != nil {
		return nil, domain.NewStorageError("chunk list", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var language *string
	if err := row.Scan(&d.ID, &d.Name, &d.Path, &d.Type, &d.Size, &d.Hash,
		&d.Keywords, &language, &d.Summary, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if language != nil {
		d.Language = *language
	}
	return &d, nil
}

func scanDocumentRow(row pgx.Row, op string) (*domain.Document, error) {
	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, domain.NewStorageError(op, err)
	}
	return d, nil
}

func scanChunkRows(rows pgx.Rows) ([]*domain.DocumentChunk, error) {
	var results []*domain.DocumentChunk
	for rows.Next() {
		var c domain.DocumentChunk
		var section *string
		var vec *pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &section,
			&c.StartLine, &c.EndLine, &vec, &c.CreatedAt); err != nil {
			return nil, domain.NewStorageError("chunk scan", err)
		}
		if section != nil {
			c.Section = *section
		}
		if vec != nil {
			c.Embedding = vec.Slice()
		}
		results = append(results, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("chunk scan", err)
	}
	return results, nil
}
