package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"cvsearch-backend/internal/ingest"
	"cvsearch-backend/internal/queue"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingField indicates a task without its blob locator or owner.
type ErrMissingField struct {
	Meta        MessageMeta
	TaskID      string
	RequestID   string
	BlobLocator string
	OwnerID     string
	Err         error
}

func (e ErrMissingField) Error() string {
	if e.Err == nil {
		return "missing required field"
	}
	return e.Err.Error()
}

func (e ErrMissingField) Unwrap() error { return e.Err }

// ErrProcess indicates the task could not be settled and must be redelivered.
type ErrProcess struct {
	TaskID    string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process task"
	}
	return "process task: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether err means the payload itself is unusable,
// so redelivery cannot help.
func Unrecoverable(err error) bool {
	switch err.(type) {
	case ErrEmptyBody, ErrDecode, ErrMissingField:
		return true
	}
	return false
}

// TaskProcessor runs the ingestion job for a decoded task.
type TaskProcessor interface {
	Process(ctx context.Context, task queue.Task) (ingest.Result, error)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Task, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Task{}, meta, ErrEmptyBody{Meta: meta}
	}

	task, err := queue.DecodeTask([]byte(body))
	if err != nil {
		if errors.Is(err, queue.ErrMissingField) {
			return task, meta, ErrMissingField{
				Meta:        meta,
				TaskID:      task.ID,
				RequestID:   task.RequestID,
				BlobLocator: task.BlobLocator,
				OwnerID:     task.OwnerID,
				Err:         err,
			}
		}
		return queue.Task{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	return task, meta, nil
}

// HandleMessage parses body and runs the processor. It returns an ErrProcess
// only when the task must be redelivered; terminal failures are recorded by
// the processor and reported through the result.
func HandleMessage(ctx context.Context, proc TaskProcessor, body string) (ingest.Result, error) {
	if proc == nil {
		return ingest.Result{}, errors.New("ingest processor not configured")
	}
	task, _, err := ParseMessage(body)
	if err != nil {
		return ingest.Result{}, err
	}

	res, err := proc.Process(ctx, task)
	if err != nil {
		return res, ErrProcess{TaskID: task.ID, RequestID: task.RequestID, Err: err}
	}
	return res, nil
}

// RecordUnrecoverable stores a permanent failure for a payload that names a
// task but cannot be processed. Payloads with no task id, locator or owner
// are not recorded.
func RecordUnrecoverable(ctx context.Context, failures ingest.FailureStore, err error) error {
	var missing ErrMissingField
	if failures == nil || !errors.As(err, &missing) {
		return nil
	}
	if missing.TaskID == "" && missing.BlobLocator == "" && missing.OwnerID == "" {
		return nil
	}
	return failures.Record(ctx, ingest.Failure{
		ID:          uuid.NewString(),
		TaskID:      missing.TaskID,
		BlobLocator: missing.BlobLocator,
		OwnerID:     missing.OwnerID,
		Kind:        ingest.KindPermanent,
		Reason:      missing.Error(),
		FailedAt:    time.Now().UTC(),
	})
}
