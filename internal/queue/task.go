package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TaskVersion is the wire version written by this build.
const TaskVersion = 1

// ErrMissingField reports a task payload without a required field.
var ErrMissingField = errors.New("missing required field")

// Task is the unit of ingestion work. It carries everything the job needs
// and no reference to request state.
type Task struct {
	ID          string `json:"id"`
	BlobLocator string `json:"blobLocator"`
	OwnerID     string `json:"ownerId"`
	Title       string `json:"title,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
	EnqueuedAt  string `json:"enqueuedAt"`
	Version     int    `json:"version"`
}

// EncodeTask returns the JSON representation of a task.
func EncodeTask(task Task) ([]byte, error) {
	if err := validate(task); err != nil {
		return nil, err
	}
	return json.Marshal(task)
}

// DecodeTask parses a JSON payload into a Task. Payloads missing the blob
// locator or owner are rejected.
func DecodeTask(payload []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return Task{}, err
	}
	if err := validate(task); err != nil {
		return task, err
	}
	return task, nil
}

func validate(task Task) error {
	if strings.TrimSpace(task.BlobLocator) == "" {
		return fmt.Errorf("%w: blobLocator", ErrMissingField)
	}
	if strings.TrimSpace(task.OwnerID) == "" {
		return fmt.Errorf("%w: ownerId", ErrMissingField)
	}
	return nil
}
