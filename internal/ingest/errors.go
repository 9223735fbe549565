package ingest

import (
	"context"
	"errors"

	"cvsearch-backend/internal/documents"
	"cvsearch-backend/internal/extract"
	"cvsearch-backend/internal/queue"
	"cvsearch-backend/internal/shared/storage/object"
)

var (
	// ErrBlobUnavailable wraps blob read failures other than a missing blob.
	ErrBlobUnavailable = errors.New("blob unavailable")
	// ErrPersistenceFailed wraps document store failures.
	ErrPersistenceFailed = errors.New("persistence failed")
)

// Kind is the retry class of an ingestion failure.
type Kind string

const (
	KindPermanent Kind = "permanent"
	KindTransient Kind = "transient"
)

// Classify maps an attempt error to its retry class. Unknown errors are
// transient; the attempt bound still applies to them.
func Classify(err error) Kind {
	var ee *extract.ExtractionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ee):
		if ee.Kind == extract.KindTransient {
			return KindTransient
		}
		return KindPermanent
	case errors.Is(err, object.ErrBlobNotFound),
		errors.Is(err, queue.ErrMissingField),
		errors.Is(err, documents.ErrInvalidInput):
		return KindPermanent
	case errors.Is(err, ErrBlobUnavailable),
		errors.Is(err, ErrPersistenceFailed),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindTransient
	}
}
