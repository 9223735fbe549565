package minio

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"cvsearch-backend/internal/shared/storage/object"
)

// Options configures the MinIO connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store implements BlobStore against a MinIO (or any S3-compatible) endpoint.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and creates the bucket if it does not exist yet.
func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket exists %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket %s: %w", opts.Bucket, err)
		}
	}

	return &Store{client: client, bucket: opts.Bucket}, nil
}

// Put streams the body to MinIO under a fresh key.
func (s *Store) Put(ctx context.Context, obj object.Object) (string, error) {
	key, err := object.NewKey(obj.OwnerID, obj.Name)
	if err != nil {
		return "", err
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, obj.Body, -1, minio.PutObjectOptions{
		ContentType: obj.ContentType,
	}); err != nil {
		return "", fmt.Errorf("minio put object bucket=%s key=%s: %w", s.bucket, key, err)
	}
	return key, nil
}

// Get opens a stored blob. minio-go resolves objects lazily, so a Stat call
// surfaces missing keys before the reader is handed out.
func (s *Store) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapErr(locator, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapErr(locator, err)
	}
	return obj, nil
}

// Delete removes a stored blob.
func (s *Store) Delete(ctx context.Context, locator string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, locator, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio remove object key=%s: %w", locator, err)
	}
	return nil
}

func mapErr(locator string, err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("minio get object key=%s: %w", locator, object.ErrBlobNotFound)
	}
	return fmt.Errorf("minio get object key=%s: %w", locator, err)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

var _ object.BlobStore = (*Store)(nil)
