package documents

import "context"

// Store persists documents and answers full-text queries over them.
// A document is searchable as soon as CreateIfAbsent returns.
type Store interface {
	// CreateIfAbsent inserts doc unless a document with the same
	// SourceLocator exists; it returns the stored document and whether
	// this call created it.
	CreateIfAbsent(ctx context.Context, doc Document) (Document, bool, error)
	// GetBySource returns ErrNotFound when nothing was ingested from locator.
	GetBySource(ctx context.Context, locator string) (Document, error)
	// ListByOwner returns documents newest-first.
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error)
	// Search matches term against title and content of ownerID's documents.
	// Results are ranked by the backend, ties by creation order.
	Search(ctx context.Context, term, ownerID string, limit int) ([]Document, error)
}
