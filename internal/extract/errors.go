package extract

import (
	"errors"
	"fmt"
)

// Kind classifies an extraction failure for the retry policy.
type Kind string

const (
	// KindPermanent failures (corrupt or non-PDF input, extractor crash) never retry.
	KindPermanent Kind = "permanent"
	// KindTransient failures (timeouts) may succeed on a later attempt.
	KindTransient Kind = "transient"
)

// ExtractionError is the failure signal every Extractor returns.
type ExtractionError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed (%s): %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed (%s): %s", e.Kind, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Permanent builds a non-retryable ExtractionError.
func Permanent(reason string, err error) *ExtractionError {
	return &ExtractionError{Kind: KindPermanent, Reason: reason, Err: err}
}

// Transient builds a retryable ExtractionError.
func Transient(reason string, err error) *ExtractionError {
	return &ExtractionError{Kind: KindTransient, Reason: reason, Err: err}
}

// IsTransient reports whether err carries a transient ExtractionError.
func IsTransient(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Kind == KindTransient
}
