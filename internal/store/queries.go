package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// DBTX is the subset of pgx used by Queries. Both *pgxpool.Pool and
// pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the pgx-backed implementation of Querier.
type Queries struct {
	db DBTX
}

// NewQueries creates a Queries bound to db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// UpsertDocumentParams holds one document row for insert-or-update.
type UpsertDocumentParams struct {
	ID        string
	Kind      string
	Content   string
	Embedding *pgvector.Vector
	Metadata  []byte
	Raw       []byte
}

const upsertDocumentSQL = `
INSERT INTO rp_documents (id, kind, content, embedding, metadata, raw)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    kind       = EXCLUDED.kind,
    content    = EXCLUDED.content,
    embedding  = EXCLUDED.embedding,
    metadata   = EXCLUDED.metadata,
    raw        = EXCLUDED.raw,
    updated_at = now()`

// UpsertDocument inserts or replaces one document row.
func (q *Queries) UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error {
	_, err := q.db.Exec(ctx, upsertDocumentSQL,
		arg.ID, arg.Kind, arg.Content, arg.Embedding, arg.Metadata, arg.Raw)
	if err != nil {
		return fmt.Errorf("upsert document %q: %w", arg.ID, err)
	}
	return nil
}

// IDsByKind returns all document ids of one kind.
func (q *Queries) IDsByKind(ctx context.Context, kind string) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM rp_documents WHERE kind = $1`, kind)
	if err != nil {
		return nil, fmt.Errorf("list ids for kind %q: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// SearchDocumentsParams parameterizes a filtered vector search.
// Nil Kinds or Statuses disables the respective filter.
type SearchDocumentsParams struct {
	Embedding   *pgvector.Vector
	Kinds       []string
	Statuses    []string
	ResultLimit int32
}

// SearchDocumentsRow is one vector search hit. Distance is the cosine
// distance (0 = identical direction).
type SearchDocumentsRow struct {
	ID        string
	Kind      string
	Content   string
	Metadata  []byte
	Raw       []byte
	CreatedAt pgtype.Timestamptz
	Distance  float64
}

const searchDocumentsSQL = `
SELECT id, kind, content, metadata, raw, created_at,
       embedding <=> $1 AS distance
FROM rp_documents
WHERE ($2::text[] IS NULL OR kind = ANY($2))
  AND ($3::text[] IS NULL OR metadata->>'status' = ANY($3))
ORDER BY embedding <=> $1
LIMIT $4`

// SearchDocuments performs cosine-distance vector search with optional
// kind and status filters.
func (q *Queries) SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error) {
	rows, err := q.db.Query(ctx, searchDocumentsSQL,
		arg.Embedding, arg.Kinds, arg.Statuses, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var out []SearchDocumentsRow
	for rows.Next() {
		var row SearchDocumentsRow
		if err := rows.Scan(&row.ID, &row.Kind, &row.Content, &row.Metadata,
			&row.Raw, &row.CreatedAt, &row.Distance); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return out, nil
}

// DeleteByKind removes every document of one kind and returns the
// number of rows deleted.
func (q *Queries) DeleteByKind(ctx context.Context, kind string) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM rp_documents WHERE kind = $1`, kind)
	if err != nil {
		return 0, fmt.Errorf("delete kind %q: %w", kind, err)
	}
	return tag.RowsAffected(), nil
}

// KindCounts returns the number of stored documents per kind.
func (q *Queries) KindCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT kind, count(*) FROM rp_documents GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate count rows: %w", err)
	}
	return counts, nil
}
