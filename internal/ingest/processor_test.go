package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"cvsearch-backend/internal/documents"
	"cvsearch-backend/internal/extract"
	"cvsearch-backend/internal/extract/pdffixture"
	"cvsearch-backend/internal/queue"
	"cvsearch-backend/internal/shared/storage/object"
	"cvsearch-backend/internal/shared/storage/object/local"
)

type extractFunc func(ctx context.Context, data []byte) (string, error)

func (f extractFunc) Extract(ctx context.Context, data []byte) (string, error) { return f(ctx, data) }

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

type fixture struct {
	blobs    *local.Store
	store    *documents.MemoryRepo
	failures *MemoryFailureStore
	sleeps   *recordedSleeps
	proc     *Processor
}

func newFixture(t *testing.T, ext extract.Extractor) *fixture {
	t.Helper()
	f := &fixture{
		blobs:    local.New(t.TempDir()),
		store:    documents.NewMemoryRepo(),
		failures: NewMemoryFailureStore(),
		sleeps:   &recordedSleeps{},
	}
	f.proc = &Processor{
		Blobs:       f.blobs,
		Extractor:   ext,
		Store:       f.store,
		Failures:    f.failures,
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		sleep:       f.sleeps.sleep,
	}
	return f
}

func (f *fixture) putBlob(t *testing.T, owner string, data []byte) string {
	t.Helper()
	locator, err := f.blobs.Put(context.Background(), object.Object{
		OwnerID:     owner,
		Name:        "cv.pdf",
		ContentType: "application/pdf",
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}
	return locator
}

func TestProcessEndToEndThroughQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, extract.NativePDF{})
	locator := f.putBlob(t, "U1", pdffixture.Build("Experienced engineer with skills in Go and Rust"))

	q := queue.NewMemoryQueue(4)
	if _, err := queue.NewPublisher(q).Enqueue(ctx, queue.EnqueueRequest{BlobLocator: locator, OwnerID: "U1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deliveries, err := q.Receive(ctx, 1)
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("receive: %v %v", deliveries, err)
	}
	task, err := queue.DecodeTask([]byte(deliveries[0].Body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	res, err := f.proc.Process(ctx, task)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s (%v)", res.Outcome, res.Err)
	}
	if res.Document.OwnerID != "U1" {
		t.Fatalf("document owner must come from the task, got %q", res.Document.OwnerID)
	}
	if res.Document.Title != documents.DefaultTitle {
		t.Fatalf("expected default title, got %q", res.Document.Title)
	}
	if !strings.Contains(res.Document.Content, "Go and Rust") {
		t.Fatalf("unexpected content %q", res.Document.Content)
	}

	svc := &documents.Service{Repo: f.store}
	hits, err := svc.Search(ctx, "Rust", "U1", 0)
	if err != nil || len(hits) != 1 || hits[0].ID != res.Document.ID {
		t.Fatalf("expected U1 search hit, got %v %v", hits, err)
	}
	hits, err = svc.Search(ctx, "Rust", "U2", 0)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected no hits for U2, got %v %v", hits, err)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	calls := 0
	f := newFixture(t, extractFunc(func(context.Context, []byte) (string, error) {
		calls++
		return "go developer", nil
	}))
	task := queue.Task{ID: "t1", BlobLocator: f.putBlob(t, "U1", []byte("%PDF-1.4")), OwnerID: "U1"}

	first, err := f.proc.Process(ctx, task)
	if err != nil || first.Outcome != OutcomeCompleted {
		t.Fatalf("first run: %+v %v", first, err)
	}
	second, err := f.proc.Process(ctx, task)
	if err != nil || second.Outcome != OutcomeDuplicate {
		t.Fatalf("second run: %+v %v", second, err)
	}
	if second.Document.ID != first.Document.ID {
		t.Fatal("redelivery must resolve to the original document")
	}
	if calls != 1 {
		t.Fatalf("redelivery should skip extraction, extractor ran %d times", calls)
	}
	docs, _ := f.store.ListByOwner(ctx, "U1", 0, 0)
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}
}

func TestProcessCorruptPDFFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, extract.NativePDF{})
	task := queue.Task{ID: "t-bad", BlobLocator: f.putBlob(t, "U1", []byte("this is not a pdf")), OwnerID: "U1"}

	res, err := f.proc.Process(ctx, task)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeFailed || res.Attempts != 1 {
		t.Fatalf("expected single failed attempt, got %+v", res)
	}
	if len(f.sleeps.delays) != 0 {
		t.Fatal("permanent failure must not back off")
	}
	failures, _ := f.failures.List(ctx, 10)
	if len(failures) != 1 || failures[0].Kind != KindPermanent || failures[0].TaskID != "t-bad" {
		t.Fatalf("unexpected failure records %+v", failures)
	}
	docs, _ := f.store.ListByOwner(ctx, "U1", 0, 0)
	if len(docs) != 0 {
		t.Fatal("failed task must not create a document")
	}
}

func TestProcessRetriesTransientWithBackoff(t *testing.T) {
	calls := 0
	f := newFixture(t, extractFunc(func(context.Context, []byte) (string, error) {
		calls++
		if calls < 3 {
			return "", extract.Transient("timed out after 60s", context.DeadlineExceeded)
		}
		return "rust", nil
	}))
	task := queue.Task{ID: "t2", BlobLocator: f.putBlob(t, "U1", []byte("%PDF-1.4")), OwnerID: "U1"}

	res, err := f.proc.Process(context.Background(), task)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.Attempts != 3 {
		t.Fatalf("expected completion on third attempt, got %+v", res)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(f.sleeps.delays) != len(want) || f.sleeps.delays[0] != want[0] || f.sleeps.delays[1] != want[1] {
		t.Fatalf("unexpected backoff %v", f.sleeps.delays)
	}
}

func TestProcessExhaustsTransientAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, extractFunc(func(context.Context, []byte) (string, error) {
		return "", extract.Transient("timed out after 60s", context.DeadlineExceeded)
	}))
	task := queue.Task{ID: "t3", BlobLocator: f.putBlob(t, "U1", []byte("%PDF-1.4")), OwnerID: "U1"}

	res, err := f.proc.Process(ctx, task)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeFailed || res.Attempts != 3 {
		t.Fatalf("expected failure after 3 attempts, got %+v", res)
	}
	failures, _ := f.failures.List(ctx, 0)
	if len(failures) != 1 || failures[0].Kind != KindTransient || failures[0].Attempts != 3 {
		t.Fatalf("unexpected failure record %+v", failures)
	}
}

func TestProcessMissingBlobIsPermanent(t *testing.T) {
	f := newFixture(t, extractFunc(func(context.Context, []byte) (string, error) { return "", nil }))
	task := queue.Task{ID: "t4", BlobLocator: "ab/cd_missing.pdf", OwnerID: "U1"}

	res, err := f.proc.Process(context.Background(), task)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, object.ErrBlobNotFound) || res.Attempts != 1 {
		t.Fatalf("expected permanent blob-not-found failure, got %+v", res)
	}
}

type flakyBlobs struct {
	object.BlobStore
	failures int
}

func (f *flakyBlobs) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset by peer")
	}
	return f.BlobStore.Get(ctx, locator)
}

func TestProcessRetriesUnavailableBlob(t *testing.T) {
	f := newFixture(t, extractFunc(func(context.Context, []byte) (string, error) { return "text", nil }))
	locator := f.putBlob(t, "U1", []byte("%PDF-1.4"))
	f.proc.Blobs = &flakyBlobs{BlobStore: f.blobs, failures: 1}

	res, err := f.proc.Process(context.Background(), queue.Task{ID: "t5", BlobLocator: locator, OwnerID: "U1"})
	if err != nil || res.Outcome != OutcomeCompleted || res.Attempts != 2 {
		t.Fatalf("expected recovery on retry, got %+v %v", res, err)
	}
}

func TestProcessTruncatesLongText(t *testing.T) {
	long := strings.Repeat("a", documents.MaxContentLength+1)
	f := newFixture(t, extractFunc(func(context.Context, []byte) (string, error) { return long, nil }))
	task := queue.Task{ID: "t6", BlobLocator: f.putBlob(t, "U1", []byte("%PDF-1.4")), OwnerID: "U1", Title: "Long CV"}

	res, err := f.proc.Process(context.Background(), task)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n := utf8.RuneCountInString(res.Document.Content); n != documents.MaxContentLength {
		t.Fatalf("expected %d chars, got %d", documents.MaxContentLength, n)
	}
	if res.Document.Content != long[:documents.MaxContentLength] {
		t.Fatal("expected prefix to be preserved")
	}
	if res.Document.Title != "Long CV" {
		t.Fatalf("expected task title, got %q", res.Document.Title)
	}
}

type brokenFailures struct{}

func (brokenFailures) Record(context.Context, Failure) error { return errors.New("db down") }
func (brokenFailures) List(context.Context, int) ([]Failure, error) {
	return nil, nil
}

func TestProcessReturnsErrorWhenFailureCannotBeRecorded(t *testing.T) {
	f := newFixture(t, extract.NativePDF{})
	f.proc.Failures = brokenFailures{}
	task := queue.Task{ID: "t7", BlobLocator: f.putBlob(t, "U1", []byte("garbage")), OwnerID: "U1"}

	res, err := f.proc.Process(context.Background(), task)
	if err == nil {
		t.Fatal("expected error so the delivery is redelivered")
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", res.Outcome)
	}
}

func TestProcessDeletesBlobWhenConfigured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, extractFunc(func(context.Context, []byte) (string, error) { return "text", nil }))
	f.proc.DeleteBlobs = true
	locator := f.putBlob(t, "U1", []byte("%PDF-1.4"))

	if _, err := f.proc.Process(ctx, queue.Task{ID: "t8", BlobLocator: locator, OwnerID: "U1"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := f.blobs.Get(ctx, locator); !errors.Is(err, object.ErrBlobNotFound) {
		t.Fatalf("expected blob to be deleted, got %v", err)
	}
}

func TestProcessRejectsTaskWithoutOwner(t *testing.T) {
	f := newFixture(t, extractFunc(func(context.Context, []byte) (string, error) { return "text", nil }))
	res, err := f.proc.Process(context.Background(), queue.Task{ID: "t9", BlobLocator: "x"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, queue.ErrMissingField) {
		t.Fatalf("expected missing field failure, got %+v", res)
	}
}

func TestProcessStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, extractFunc(func(context.Context, []byte) (string, error) {
		cancel()
		return "", extract.Transient("cancelled", context.Canceled)
	}))
	task := queue.Task{ID: "t10", BlobLocator: f.putBlob(t, "U1", []byte("%PDF-1.4")), OwnerID: "U1"}

	if _, err := f.proc.Process(ctx, task); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	failures, _ := f.failures.List(context.Background(), 0)
	if len(failures) != 0 {
		t.Fatal("cancelled task must not be recorded as failed")
	}
}

// staleLookup misses the first GetBySource, as a delivery racing a sibling would.
type staleLookup struct {
	*documents.MemoryRepo
	missed bool
}

func (s *staleLookup) GetBySource(ctx context.Context, locator string) (documents.Document, error) {
	if !s.missed {
		s.missed = true
		return documents.Document{}, documents.ErrNotFound
	}
	return s.MemoryRepo.GetBySource(ctx, locator)
}

func TestProcessConcurrentDeliveryAfterBlobDeletedIsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, extractFunc(func(context.Context, []byte) (string, error) { return "text", nil }))
	f.proc.DeleteBlobs = true
	task := queue.Task{ID: "t11", BlobLocator: f.putBlob(t, "U1", []byte("%PDF-1.4")), OwnerID: "U1"}

	first, err := f.proc.Process(ctx, task)
	if err != nil || first.Outcome != OutcomeCompleted {
		t.Fatalf("first run: %+v %v", first, err)
	}

	f.proc.Store = &staleLookup{MemoryRepo: f.store}
	second, err := f.proc.Process(ctx, task)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Outcome != OutcomeDuplicate || second.Document.ID != first.Document.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Document.ID, second)
	}
	failures, _ := f.failures.List(ctx, 0)
	if len(failures) != 0 {
		t.Fatalf("duplicate delivery must not record a failure, got %+v", failures)
	}
}
