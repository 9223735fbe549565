package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"cvsearch-backend/internal/documents"
	"cvsearch-backend/internal/extract"
	"cvsearch-backend/internal/queue"
	"cvsearch-backend/internal/shared/metrics"
	"cvsearch-backend/internal/shared/storage/object"
	"cvsearch-backend/internal/shared/telemetry"
)

// Outcome is how a processed task ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Result describes a settled task. Err holds the terminal cause when
// Outcome is OutcomeFailed.
type Result struct {
	Outcome  Outcome
	Document documents.Document
	Attempts int
	Err      error
}

// Processor runs the ingestion job for one task: read blob, extract text,
// persist the document. Transient failures retry with backoff up to
// MaxAttempts; permanent ones fail at once.
type Processor struct {
	Blobs        object.BlobStore
	Extractor    extract.Extractor
	Store        documents.Store
	Failures     FailureStore
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	DeleteBlobs  bool
	DefaultTitle string

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Process settles task. A non-nil error means the task was neither
// completed nor recorded as failed and must be redelivered.
func (p *Processor) Process(ctx context.Context, task queue.Task) (Result, error) {
	start := time.Now()
	defer func() { metrics.ObserveIngestDurationMs(metrics.SinceMillis(start)) }()

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		doc, created, err := p.attempt(ctx, task)
		if err == nil {
			outcome := OutcomeCompleted
			if !created {
				outcome = OutcomeDuplicate
			}
			p.logOutcome(task, outcome, doc, attempts)
			return Result{Outcome: outcome, Document: doc, Attempts: attempts}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Attempts: attempts, Err: err}, ctxErr
		}

		lastErr = err
		if Classify(err) == KindPermanent || attempts >= maxAttempts {
			break
		}

		delay := backoff(attempts, p.BaseDelay, p.MaxDelay)
		fields := taskFields(task)
		fields["attempt"] = attempts
		fields["delay_ms"] = delay.Milliseconds()
		fields["error"] = err.Error()
		telemetry.Warn("ingest.retry", fields)
		metrics.IncIngestRetried()
		if err := sleep(ctx, delay); err != nil {
			return Result{Attempts: attempts, Err: lastErr}, err
		}
	}

	return p.fail(ctx, task, lastErr, attempts)
}

func (p *Processor) attempt(ctx context.Context, task queue.Task) (documents.Document, bool, error) {
	if strings.TrimSpace(task.OwnerID) == "" || strings.TrimSpace(task.BlobLocator) == "" {
		return documents.Document{}, false, fmt.Errorf("%w: task %s", queue.ErrMissingField, task.ID)
	}
	if existing, err := p.Store.GetBySource(ctx, task.BlobLocator); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, documents.ErrNotFound) {
		return documents.Document{}, false, fmt.Errorf("%w: lookup: %v", ErrPersistenceFailed, err)
	}

	data, err := p.readBlob(ctx, task.BlobLocator)
	if err != nil {
		// A concurrent delivery may have stored the document and deleted the blob.
		if errors.Is(err, object.ErrBlobNotFound) {
			if existing, lookupErr := p.Store.GetBySource(ctx, task.BlobLocator); lookupErr == nil {
				return existing, false, nil
			}
		}
		return documents.Document{}, false, err
	}

	text, err := p.Extractor.Extract(ctx, data)
	if err != nil {
		return documents.Document{}, false, err
	}

	content := documents.PrepareContent(text)
	if utf8.RuneCountInString(text) > documents.MaxContentLength {
		metrics.IncIngestTruncated()
	}

	doc := documents.Document{
		ID:            uuid.NewString(),
		Title:         p.title(task),
		Content:       content,
		OwnerID:       task.OwnerID,
		SourceLocator: task.BlobLocator,
		CreatedAt:     p.clock().UTC(),
	}
	stored, created, err := p.Store.CreateIfAbsent(ctx, doc)
	if err != nil {
		if errors.Is(err, documents.ErrInvalidInput) {
			return documents.Document{}, false, err
		}
		return documents.Document{}, false, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	if created && p.DeleteBlobs {
		if err := p.Blobs.Delete(ctx, task.BlobLocator); err != nil {
			fields := taskFields(task)
			fields["error"] = err.Error()
			telemetry.Warn("ingest.blob_delete_failed", fields)
		}
	}
	return stored, created, nil
}

func (p *Processor) readBlob(ctx context.Context, locator string) ([]byte, error) {
	rc, err := p.Blobs.Get(ctx, locator)
	if err != nil {
		if errors.Is(err, object.ErrBlobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBlobUnavailable, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrBlobUnavailable, err)
	}
	return data, nil
}

func (p *Processor) fail(ctx context.Context, task queue.Task, cause error, attempts int) (Result, error) {
	kind := Classify(cause)
	failure := Failure{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		BlobLocator: task.BlobLocator,
		OwnerID:     task.OwnerID,
		Kind:        kind,
		Reason:      cause.Error(),
		Attempts:    attempts,
		FailedAt:    p.clock().UTC(),
	}

	fields := taskFields(task)
	fields["attempts"] = attempts
	fields["kind"] = string(kind)
	fields["error"] = cause.Error()

	result := Result{Outcome: OutcomeFailed, Attempts: attempts, Err: cause}
	if p.Failures != nil {
		if err := p.Failures.Record(ctx, failure); err != nil {
			fields["record_error"] = err.Error()
			telemetry.Error("ingest.failure_record_failed", fields)
			return result, fmt.Errorf("record failure: %w", err)
		}
	}
	telemetry.Error("ingest.failed", fields)
	metrics.IncIngestFailed()
	return result, nil
}

func (p *Processor) logOutcome(task queue.Task, outcome Outcome, doc documents.Document, attempts int) {
	fields := taskFields(task)
	fields["document_id"] = doc.ID
	fields["attempts"] = attempts
	switch outcome {
	case OutcomeDuplicate:
		telemetry.Info("ingest.duplicate", fields)
		metrics.IncIngestDuplicate()
	default:
		fields["content_chars"] = utf8.RuneCountInString(doc.Content)
		telemetry.Info("ingest.completed", fields)
		metrics.IncIngestCompleted()
	}
}

func (p *Processor) title(task queue.Task) string {
	if t := strings.TrimSpace(task.Title); t != "" {
		return t
	}
	if p.DefaultTitle != "" {
		return p.DefaultTitle
	}
	return documents.DefaultTitle
}

func (p *Processor) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func taskFields(task queue.Task) map[string]any {
	fields := map[string]any{
		"task_id":      task.ID,
		"owner_id":     task.OwnerID,
		"blob_locator": task.BlobLocator,
	}
	if strings.TrimSpace(task.RequestID) != "" {
		fields["request_id"] = task.RequestID
	}
	return fields
}
