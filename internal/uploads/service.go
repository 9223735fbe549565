package uploads

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"cvsearch-backend/internal/queue"
	"cvsearch-backend/internal/shared/metrics"
	"cvsearch-backend/internal/shared/storage/object"
	"cvsearch-backend/internal/shared/telemetry"
	"cvsearch-backend/internal/shared/util"
)

// DefaultMaxKB is the upload ceiling in KiB.
const DefaultMaxKB = 10000

const defaultFileName = "document.pdf"

var allowedContentTypes = map[string]struct{}{
	"application/pdf":   {},
	"application/x-pdf": {},
}

// Enqueuer hands a new ingestion task to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (queue.Task, error)
}

// Upload is one incoming file and the caller's identity.
type Upload struct {
	OwnerID     string
	FileName    string
	ContentType string
	Title       string
	RequestID   string
	Body        io.Reader
}

// Accepted identifies the queued ingestion for an upload.
type Accepted struct {
	TaskID      string `json:"taskId"`
	BlobLocator string `json:"blobLocator"`
}

// Service validates uploads, stores them and enqueues their ingestion.
type Service struct {
	Blobs    object.BlobStore
	Queue    Enqueuer
	MaxBytes int64
}

// NewService constructs a Service with a ceiling of maxKB KiB.
func NewService(blobs object.BlobStore, q Enqueuer, maxKB int) *Service {
	if maxKB <= 0 {
		maxKB = DefaultMaxKB
	}
	return &Service{Blobs: blobs, Queue: q, MaxBytes: int64(maxKB) * 1024}
}

// Accept stores a valid PDF and enqueues its ingestion. It returns without
// waiting for extraction. Rejected uploads leave no blob and no task.
func (s *Service) Accept(ctx context.Context, up Upload) (Accepted, error) {
	data, err := s.validate(up)
	if err != nil {
		metrics.IncUploadsRejected()
		telemetry.Warn("uploads.rejected", map[string]any{
			"owner_id":     up.OwnerID,
			"request_id":   up.RequestID,
			"content_type": up.ContentType,
			"error":        err.Error(),
		})
		return Accepted{}, err
	}

	name := strings.TrimSpace(up.FileName)
	if name == "" {
		name = defaultFileName
	}
	locator, err := s.Blobs.Put(ctx, object.Object{
		OwnerID:     up.OwnerID,
		Name:        name,
		ContentType: "application/pdf",
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		return Accepted{}, fmt.Errorf("store upload: %w", err)
	}

	task, err := s.Queue.Enqueue(ctx, queue.EnqueueRequest{
		BlobLocator: locator,
		OwnerID:     up.OwnerID,
		Title:       strings.TrimSpace(up.Title),
		RequestID:   up.RequestID,
	})
	if err != nil {
		if delErr := s.Blobs.Delete(context.WithoutCancel(ctx), locator); delErr != nil {
			telemetry.Warn("uploads.cleanup_failed", map[string]any{
				"owner_id":     up.OwnerID,
				"blob_locator": locator,
				"error":        delErr.Error(),
			})
		}
		return Accepted{}, fmt.Errorf("enqueue ingestion: %w", err)
	}

	metrics.IncUploadsAccepted()
	telemetry.Info("uploads.accepted", map[string]any{
		"owner_id":     up.OwnerID,
		"request_id":   up.RequestID,
		"task_id":      task.ID,
		"blob_locator": locator,
		"size_bytes":   len(data),
	})
	return Accepted{TaskID: task.ID, BlobLocator: locator}, nil
}

func (s *Service) validate(up Upload) ([]byte, error) {
	if strings.TrimSpace(up.OwnerID) == "" {
		return nil, &ValidationError{Field: "owner", Reason: "is required"}
	}
	if up.Body == nil {
		return nil, &ValidationError{Field: "file", Reason: "is required"}
	}
	if !allowedType(up.ContentType) {
		return nil, &ValidationError{Field: "file", Reason: "must be application/pdf"}
	}
	if name := strings.TrimSpace(up.FileName); name != "" {
		if _, err := util.SanitizeFileName(name); err != nil {
			return nil, &ValidationError{Field: "file", Reason: "invalid file name"}
		}
	}

	maxBytes := s.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxKB * 1024
	}
	data, err := io.ReadAll(io.LimitReader(up.Body, maxBytes+1))
	if err != nil {
		return nil, &ValidationError{Field: "file", Reason: "unreadable"}
	}
	if int64(len(data)) > maxBytes {
		return nil, &ValidationError{
			Field:    "file",
			Reason:   fmt.Sprintf("exceeds %d KiB", maxBytes/1024),
			tooLarge: true,
		}
	}
	if len(data) == 0 {
		return nil, &ValidationError{Field: "file", Reason: "is empty"}
	}
	if !mimetype.Detect(data).Is("application/pdf") {
		return nil, &ValidationError{Field: "file", Reason: "content is not a pdf"}
	}
	return data, nil
}

func allowedType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return false
	}
	_, ok := allowedContentTypes[strings.ToLower(mediaType)]
	return ok
}
