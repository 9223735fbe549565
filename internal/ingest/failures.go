package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Failure is the operator-visible record of a task that will not be retried.
type Failure struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId"`
	BlobLocator string    `json:"blobLocator"`
	OwnerID     string    `json:"ownerId"`
	Kind        Kind      `json:"kind"`
	Reason      string    `json:"reason"`
	Attempts    int       `json:"attempts"`
	FailedAt    time.Time `json:"failedAt"`
}

// FailureStore keeps failed tasks for inspection.
type FailureStore interface {
	Record(ctx context.Context, f Failure) error
	List(ctx context.Context, limit int) ([]Failure, error)
}

// MemoryFailureStore is an in-memory FailureStore.
type MemoryFailureStore struct {
	mu    sync.RWMutex
	items []Failure
}

// NewMemoryFailureStore constructs a MemoryFailureStore.
func NewMemoryFailureStore() *MemoryFailureStore {
	return &MemoryFailureStore{}
}

// Record appends f.
func (s *MemoryFailureStore) Record(ctx context.Context, f Failure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, f)
	return nil
}

// List returns the most recent failures first.
func (s *MemoryFailureStore) List(ctx context.Context, limit int) ([]Failure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := append([]Failure(nil), s.items...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Failure{}
	}
	return out, nil
}

// SQLFailureStore persists failures in the ingestion_failures table. The
// same statements run on Postgres and SQLite; only placeholders differ.
type SQLFailureStore struct {
	DB      *sql.DB
	dialect string
}

// NewPGFailureStore uses the migrated Postgres table.
func NewPGFailureStore(db *sql.DB) *SQLFailureStore {
	return &SQLFailureStore{DB: db, dialect: "postgres"}
}

// NewSQLiteFailureStore creates the table if needed.
func NewSQLiteFailureStore(ctx context.Context, db *sql.DB) (*SQLFailureStore, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS ingestion_failures (
    id           TEXT PRIMARY KEY,
    task_id      TEXT NOT NULL,
    blob_locator TEXT NOT NULL,
    owner_id     TEXT NOT NULL,
    kind         TEXT NOT NULL,
    reason       TEXT NOT NULL,
    attempts     INTEGER NOT NULL,
    failed_at    TIMESTAMP NOT NULL
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("sqlite failures schema: %w", err)
	}
	return &SQLFailureStore{DB: db, dialect: "sqlite"}, nil
}

// Record inserts f.
func (s *SQLFailureStore) Record(ctx context.Context, f Failure) error {
	query := `
INSERT INTO ingestion_failures (id, task_id, blob_locator, owner_id, kind, reason, attempts, failed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if s.dialect == "sqlite" {
		query = `
INSERT INTO ingestion_failures (id, task_id, blob_locator, owner_id, kind, reason, attempts, failed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	}
	_, err := s.DB.ExecContext(ctx, query,
		f.ID, f.TaskID, f.BlobLocator, f.OwnerID, string(f.Kind), f.Reason, f.Attempts, f.FailedAt.UTC())
	return err
}

// List returns the most recent failures first.
func (s *SQLFailureStore) List(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
SELECT id, task_id, blob_locator, owner_id, kind, reason, attempts, failed_at
FROM ingestion_failures
ORDER BY failed_at DESC
LIMIT $1`
	if s.dialect == "sqlite" {
		query = `
SELECT id, task_id, blob_locator, owner_id, kind, reason, attempts, failed_at
FROM ingestion_failures
ORDER BY failed_at DESC
LIMIT ?`
	}
	rows, err := s.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Failure{}
	for rows.Next() {
		var f Failure
		var kind string
		if err := rows.Scan(&f.ID, &f.TaskID, &f.BlobLocator, &f.OwnerID, &kind, &f.Reason, &f.Attempts, &f.FailedAt); err != nil {
			return nil, err
		}
		f.Kind = Kind(kind)
		out = append(out, f)
	}
	return out, rows.Err()
}

var (
	_ FailureStore = (*MemoryFailureStore)(nil)
	_ FailureStore = (*SQLFailureStore)(nil)
)
