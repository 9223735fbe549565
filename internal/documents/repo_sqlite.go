package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id             TEXT PRIMARY KEY,
		owner_id       TEXT NOT NULL,
		title          TEXT NOT NULL,
		content        TEXT NOT NULL,
		source_locator TEXT NOT NULL UNIQUE,
		created_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS documents_owner_created_idx ON documents (owner_id, created_at)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(title, content, tokenize = 'porter unicode61')`,
	`INSERT INTO documents_fts(documents_fts, rank) VALUES ('rank', 'bm25(4.0, 1.0)')`,
}

// SQLiteRepo implements Store on an embedded SQLite database with an FTS5
// index. Row and index entry are written in one transaction and share a rowid.
type SQLiteRepo struct {
	DB *sql.DB
}

// NewSQLiteRepo creates the schema if needed.
func NewSQLiteRepo(ctx context.Context, db *sql.DB) (*SQLiteRepo, error) {
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return &SQLiteRepo{DB: db}, nil
}

// CreateIfAbsent inserts doc and its index entry, deferring to an existing row for the same source.
func (r *SQLiteRepo) CreateIfAbsent(ctx context.Context, doc Document) (Document, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO documents (id, owner_id, title, content, source_locator, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (source_locator) DO NOTHING`,
		doc.ID, doc.OwnerID, doc.Title, doc.Content, doc.SourceLocator, doc.CreatedAt.UTC().UnixNano())
	if err != nil {
		return Document{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return Document{}, false, err
	}
	if inserted == 0 {
		existing, err := getBySource(ctx, tx, doc.SourceLocator)
		if err != nil {
			return Document{}, false, err
		}
		return existing, false, nil
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return Document{}, false, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents_fts (rowid, title, content) VALUES (?, ?, ?)`,
		rowID, doc.Title, doc.Content); err != nil {
		return Document{}, false, fmt.Errorf("index document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Document{}, false, err
	}
	doc.CreatedAt = time.Unix(0, doc.CreatedAt.UTC().UnixNano()).UTC()
	return doc, true, nil
}

// GetBySource fetches the document ingested from locator.
func (r *SQLiteRepo) GetBySource(ctx context.Context, locator string) (Document, error) {
	return getBySource(ctx, r.DB, locator)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBySource(ctx context.Context, q queryRower, locator string) (Document, error) {
	var doc Document
	var created int64
	err := q.QueryRowContext(ctx, `
SELECT id, owner_id, title, content, source_locator, created_at
FROM documents
WHERE source_locator = ?`, locator).Scan(
		&doc.ID, &doc.OwnerID, &doc.Title, &doc.Content, &doc.SourceLocator, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	doc.CreatedAt = time.Unix(0, created).UTC()
	return doc, nil
}

// ListByOwner lists documents ordered newest-first.
func (r *SQLiteRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, owner_id, title, content, source_locator, created_at
FROM documents
WHERE owner_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ? OFFSET ?`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanSQLiteDocuments(rows)
}

// Search ranks matches by bm25 with title weighted over content.
func (r *SQLiteRepo) Search(ctx context.Context, term, ownerID string, limit int) ([]Document, error) {
	match := ftsMatchExpr(term)
	if match == "" || ownerID == "" {
		return []Document{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT d.id, d.owner_id, d.title, d.content, d.source_locator, d.created_at
FROM documents_fts f
JOIN documents d ON d.rowid = f.rowid
WHERE documents_fts MATCH ? AND d.owner_id = ?
ORDER BY f.rank, d.created_at, d.rowid
LIMIT ?`, match, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	return scanSQLiteDocuments(rows)
}

// ftsMatchExpr quotes each token so user input never reaches the FTS5 query
// grammar. Adjacent phrases are ANDed.
func ftsMatchExpr(term string) string {
	tokens := queryTokens(term)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

func scanSQLiteDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var doc Document
		var created int64
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Content, &doc.SourceLocator, &created); err != nil {
			return nil, err
		}
		doc.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, doc)
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteRepo)(nil)
