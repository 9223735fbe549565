package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cvsearch-backend/internal/documents"
	"cvsearch-backend/internal/extract"
	"cvsearch-backend/internal/queue"
	"cvsearch-backend/internal/shared/storage/object"
)

func TestBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{5, 8 * time.Second},
		{6, 10 * time.Second},
		{40, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := backoff(tc.attempt, base, 10*time.Second); got != tc.want {
			t.Fatalf("backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"corrupt pdf", extract.Permanent("malformed pdf", errors.New("eof")), KindPermanent},
		{"timeout", extract.Transient("timed out", context.DeadlineExceeded), KindTransient},
		{"missing blob", fmt.Errorf("get: %w", object.ErrBlobNotFound), KindPermanent},
		{"blob io", fmt.Errorf("%w: reset", ErrBlobUnavailable), KindTransient},
		{"db", fmt.Errorf("%w: conn", ErrPersistenceFailed), KindTransient},
		{"bad task", fmt.Errorf("%w: ownerId", queue.ErrMissingField), KindPermanent},
		{"bad doc", documents.ErrInvalidInput, KindPermanent},
		{"unknown", errors.New("?"), KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancel, got %v", err)
	}
}
