package documents

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Store using Postgres. Full-text matching runs against
// the generated search_vector column, so an inserted row is searchable as
// soon as its transaction commits.
type PGRepo struct {
	DB *sql.DB
}

const documentColumns = `id, owner_id, title, content, source_locator, created_at`

// CreateIfAbsent inserts doc, deferring to the existing row on a source_locator conflict.
func (r *PGRepo) CreateIfAbsent(ctx context.Context, doc Document) (Document, bool, error) {
	const query = `
INSERT INTO documents (` + documentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_locator) DO NOTHING
RETURNING ` + documentColumns

	var stored Document
	err := r.DB.QueryRowContext(
		ctx,
		query,
		doc.ID,
		doc.OwnerID,
		doc.Title,
		doc.Content,
		doc.SourceLocator,
		doc.CreatedAt,
	).Scan(
		&stored.ID,
		&stored.OwnerID,
		&stored.Title,
		&stored.Content,
		&stored.SourceLocator,
		&stored.CreatedAt,
	)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, err
	}

	existing, err := r.GetBySource(ctx, doc.SourceLocator)
	if err != nil {
		return Document{}, false, err
	}
	return existing, false, nil
}

// GetBySource fetches the document ingested from locator.
func (r *PGRepo) GetBySource(ctx context.Context, locator string) (Document, error) {
	const query = `
SELECT ` + documentColumns + `
FROM documents
WHERE source_locator = $1
LIMIT 1`
	var doc Document
	err := r.DB.QueryRowContext(ctx, query, locator).Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Title,
		&doc.Content,
		&doc.SourceLocator,
		&doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// ListByOwner lists documents ordered newest-first.
func (r *PGRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
SELECT ` + documentColumns + `
FROM documents
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanDocuments(rows)
}

// Search ranks matches with ts_rank; title lexemes carry weight A, content B.
func (r *PGRepo) Search(ctx context.Context, term, ownerID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	const query = `
SELECT ` + documentColumns + `
FROM documents
WHERE owner_id = $1
  AND search_vector @@ plainto_tsquery('english', $2)
ORDER BY ts_rank(search_vector, plainto_tsquery('english', $2)) DESC, created_at ASC, id ASC
LIMIT $3`

	rows, err := r.DB.QueryContext(ctx, query, ownerID, term, limit)
	if err != nil {
		return nil, err
	}
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(
			&doc.ID,
			&doc.OwnerID,
			&doc.Title,
			&doc.Content,
			&doc.SourceLocator,
			&doc.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

var _ Store = (*PGRepo)(nil)
