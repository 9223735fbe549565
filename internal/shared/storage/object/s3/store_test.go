package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"cvsearch-backend/internal/shared/storage/object"
)

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "owner/file.pdf", want: "owner/file.pdf"},
		{name: "simple prefix", prefix: "root", key: "owner/file.pdf", want: "root/owner/file.pdf"},
		{name: "prefix trailing slash", prefix: "root/", key: "owner/file.pdf", want: "root/owner/file.pdf"},
		{name: "prefix and key slashes", prefix: "/root/", key: "/owner/file.pdf", want: "root/owner/file.pdf"},
		{name: "nested prefix", prefix: "root/sub", key: "owner/file.pdf", want: "root/sub/owner/file.pdf"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

type fakeObjects struct {
	bodies  map[string]string
	deleted []string
}

func (f *fakeObjects) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.bodies[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeObjects) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakeUploader struct {
	objects *fakeObjects
	inputs  []*s3.PutObjectInput
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, input)
	f.objects.bodies[aws.ToString(input.Key)] = string(data)
	return &manager.UploadOutput{}, nil
}

func TestStoreRoundTripUsesPrefixAndEncryption(t *testing.T) {
	objects := &fakeObjects{bodies: map[string]string{}}
	uploader := &fakeUploader{objects: objects}
	store := &Store{client: objects, uploader: uploader, bucket: "bucket", prefix: "uploads"}

	locator, err := store.Put(context.Background(), object.Object{
		OwnerID:     "owner-1",
		Name:        "cv.pdf",
		ContentType: "application/pdf",
		Body:        strings.NewReader("%PDF-1.7"),
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if strings.HasPrefix(locator, "uploads/") {
		t.Fatalf("locator should not include the bucket prefix: %s", locator)
	}
	in := uploader.inputs[0]
	if got := aws.ToString(in.Key); got != "uploads/"+locator {
		t.Fatalf("unexpected object key %s", got)
	}
	if in.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected AES256 encryption, got %s", in.ServerSideEncryption)
	}

	rc, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "%PDF-1.7" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestStoreGetMapsNoSuchKey(t *testing.T) {
	store := &Store{client: &fakeObjects{bodies: map[string]string{}}, bucket: "bucket"}
	_, err := store.Get(context.Background(), "missing.pdf")
	if !errors.Is(err, object.ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}
