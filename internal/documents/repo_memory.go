package documents

import (
	"context"
	"sort"
	"sync"
)

type memoryEntry struct {
	doc       Document
	seq       int64
	titleTF   map[string]int
	contentTF map[string]int
}

// MemoryRepo is an in-memory Store backed by a per-owner inverted index.
type MemoryRepo struct {
	mu       sync.RWMutex
	seq      int64
	bySource map[string]*memoryEntry
	byOwner  map[string][]*memoryEntry
	index    map[string]map[string]map[*memoryEntry]struct{} // owner -> token -> entries
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		bySource: make(map[string]*memoryEntry),
		byOwner:  make(map[string][]*memoryEntry),
		index:    make(map[string]map[string]map[*memoryEntry]struct{}),
	}
}

// CreateIfAbsent stores doc and indexes it under the same lock.
func (r *MemoryRepo) CreateIfAbsent(ctx context.Context, doc Document) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, false, err
	}
	if doc.OwnerID == "" || doc.SourceLocator == "" {
		return Document{}, false, ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bySource[doc.SourceLocator]; ok {
		return existing.doc, false, nil
	}

	r.seq++
	entry := &memoryEntry{
		doc:       doc,
		seq:       r.seq,
		titleTF:   termFrequencies(doc.Title),
		contentTF: termFrequencies(doc.Content),
	}
	r.bySource[doc.SourceLocator] = entry
	r.byOwner[doc.OwnerID] = append(r.byOwner[doc.OwnerID], entry)

	postings := r.index[doc.OwnerID]
	if postings == nil {
		postings = make(map[string]map[*memoryEntry]struct{})
		r.index[doc.OwnerID] = postings
	}
	for _, tf := range []map[string]int{entry.titleTF, entry.contentTF} {
		for tok := range tf {
			if postings[tok] == nil {
				postings[tok] = make(map[*memoryEntry]struct{})
			}
			postings[tok][entry] = struct{}{}
		}
	}
	return doc, true, nil
}

// GetBySource returns the document ingested from locator.
func (r *MemoryRepo) GetBySource(ctx context.Context, locator string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.bySource[locator]
	if !ok {
		return Document{}, ErrNotFound
	}
	return entry.doc, nil
}

// ListByOwner returns documents for an owner, newest first, honoring limit/offset.
func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	entries := append([]*memoryEntry(nil), r.byOwner[ownerID]...)
	r.mu.RUnlock()

	if len(entries) == 0 || offset >= len(entries) {
		return []Document{}, nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].doc.CreatedAt.Equal(entries[j].doc.CreatedAt) {
			return entries[i].doc.CreatedAt.After(entries[j].doc.CreatedAt)
		}
		return entries[i].seq > entries[j].seq
	})

	end := len(entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Document, 0, end-offset)
	for _, e := range entries[offset:end] {
		out = append(out, e.doc)
	}
	return out, nil
}

// Search returns ownerID's documents containing every token of term.
// Title hits weigh four times content hits.
func (r *MemoryRepo) Search(ctx context.Context, term, ownerID string, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := queryTokens(term)
	if len(tokens) == 0 || ownerID == "" {
		return []Document{}, nil
	}

	type scored struct {
		entry *memoryEntry
		score int
	}

	r.mu.RLock()
	postings := r.index[ownerID]
	var hits []scored
	if postings != nil {
		for entry := range postings[tokens[0]] {
			score := 0
			matched := true
			for _, tok := range tokens {
				if _, ok := postings[tok][entry]; !ok {
					matched = false
					break
				}
				score += 4*entry.titleTF[tok] + entry.contentTF[tok]
			}
			if matched {
				hits = append(hits, scored{entry: entry, score: score})
			}
		}
	}
	r.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.entry.doc.CreatedAt.Equal(b.entry.doc.CreatedAt) {
			return a.entry.doc.CreatedAt.Before(b.entry.doc.CreatedAt)
		}
		return a.entry.seq < b.entry.seq
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]Document, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.entry.doc)
	}
	return out, nil
}

func termFrequencies(s string) map[string]int {
	tf := make(map[string]int)
	for _, tok := range tokenize(s) {
		tf[tok]++
	}
	return tf
}

var _ Store = (*MemoryRepo)(nil)
