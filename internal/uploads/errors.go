package uploads

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every rejected upload.
	ErrValidation = errors.New("validation failed")
	// ErrTooLarge matches uploads over the size ceiling.
	ErrTooLarge = errors.New("file too large")
)

// ValidationError names the offending input.
type ValidationError struct {
	Field  string
	Reason string

	tooLarge bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation, or ErrTooLarge for oversize files.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	return e.tooLarge && target == ErrTooLarge
}
