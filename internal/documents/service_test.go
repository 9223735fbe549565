package documents

import (
	"context"
	"testing"
	"time"
)

type recordingStore struct {
	*MemoryRepo
	lastLimit int
	calls     int
}

func (r *recordingStore) Search(ctx context.Context, term, ownerID string, limit int) ([]Document, error) {
	r.calls++
	r.lastLimit = limit
	return r.MemoryRepo.Search(ctx, term, ownerID, limit)
}

func TestServiceSearchBlankInputs(t *testing.T) {
	store := &recordingStore{MemoryRepo: NewMemoryRepo()}
	svc := &Service{Repo: store}

	for _, tc := range []struct{ term, owner string }{{"", "u1"}, {"   ", "u1"}, {"rust", ""}} {
		got, err := svc.Search(context.Background(), tc.term, tc.owner, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty non-nil slice, got %#v", got)
		}
	}
	if store.calls != 0 {
		t.Fatalf("blank input should not reach the store, got %d calls", store.calls)
	}
}

func TestServiceSearchClampsLimit(t *testing.T) {
	store := &recordingStore{MemoryRepo: NewMemoryRepo()}
	svc := &Service{Repo: store}
	mustCreate(t, store, newDoc("d1", "u1", "cv", "rust", time.Now()))

	if _, err := svc.Search(context.Background(), "rust", "u1", 0); err != nil {
		t.Fatalf("search: %v", err)
	}
	if store.lastLimit != DefaultSearchLimit {
		t.Fatalf("expected default limit, got %d", store.lastLimit)
	}
	if _, err := svc.Search(context.Background(), "rust", "u1", 1000); err != nil {
		t.Fatalf("search: %v", err)
	}
	if store.lastLimit != MaxSearchLimit {
		t.Fatalf("expected max limit, got %d", store.lastLimit)
	}
}

func TestServiceListRequiresOwner(t *testing.T) {
	svc := &Service{Repo: NewMemoryRepo()}
	if _, err := svc.List(context.Background(), " ", 10, 0); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
