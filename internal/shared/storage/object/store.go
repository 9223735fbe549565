package object

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cvsearch-backend/internal/shared/util"
)

// ErrBlobNotFound is returned when a locator does not resolve to a stored object.
var ErrBlobNotFound = errors.New("blob not found")

// Object describes a blob to be written.
type Object struct {
	OwnerID     string
	Name        string
	ContentType string
	Body        io.Reader
}

// BlobStore is durable storage for uploaded files. Implementations must be
// safe for concurrent use.
type BlobStore interface {
	// Put stores the object under a freshly generated key and returns its locator.
	Put(ctx context.Context, obj Object) (locator string, err error)
	// Get opens a stored object. Missing objects yield ErrBlobNotFound.
	Get(ctx context.Context, locator string) (io.ReadCloser, error)
	// Delete removes a stored object. Deleting a missing object is not an error.
	Delete(ctx context.Context, locator string) error
}

// NewKey builds a collision-resistant storage key in the owner's namespace.
func NewKey(ownerID, suggestedName string) (string, error) {
	if ownerID == "" {
		return "", errors.New("owner id is required")
	}
	name, err := util.SanitizeFileName(suggestedName)
	if err != nil {
		return "", fmt.Errorf("sanitize file name: %w", err)
	}
	return path.Join(util.OwnerKey(ownerID), randomID()+"_"+name), nil
}

func randomID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
