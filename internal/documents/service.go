package documents

import (
	"context"
	"strings"
)

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 100
)

// Service exposes owner-scoped reads over a Store.
type Service struct {
	Repo Store
}

// Search returns ownerID's documents matching term. A blank term or owner
// yields an empty result rather than an error.
func (s *Service) Search(ctx context.Context, term, ownerID string, limit int) ([]Document, error) {
	term = strings.TrimSpace(term)
	ownerID = strings.TrimSpace(ownerID)
	if term == "" || ownerID == "" {
		return []Document{}, nil
	}
	docs, err := s.Repo.Search(ctx, term, ownerID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// List returns ownerID's documents newest-first.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrInvalidInput
	}
	return s.Repo.ListByOwner(ctx, ownerID, clampLimit(limit), offset)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}
