package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Delivery is one received message. It must be settled with Ack or Nack.
type Delivery struct {
	ID           string
	Body         string
	ReceiveCount int

	receipt string
}

// Sender moves encoded task bodies onto a queue.
type Sender interface {
	Send(ctx context.Context, body []byte) error
}

// Consumer hands out deliveries to workers.
type Consumer interface {
	// Receive blocks until at least one delivery is available, the backend's
	// poll window elapses (returning none) or ctx is done.
	Receive(ctx context.Context, max int) ([]Delivery, error)
	// Ack removes a settled delivery permanently.
	Ack(ctx context.Context, d Delivery) error
	// Nack makes the delivery available again for redelivery.
	Nack(ctx context.Context, d Delivery) error
}

// Backend is a queue that can both send and consume.
type Backend interface {
	Sender
	Consumer
}

// EnqueueRequest names the fields of a new task explicitly so locator and
// owner cannot be transposed at the call site.
type EnqueueRequest struct {
	BlobLocator string
	OwnerID     string
	Title       string
	RequestID   string
}

// Publisher builds tasks and sends them through a Sender.
type Publisher struct {
	Sender Sender
	Now    func() time.Time
}

// NewPublisher constructs a Publisher.
func NewPublisher(sender Sender) *Publisher {
	return &Publisher{Sender: sender, Now: time.Now}
}

// Enqueue sends a task for req and returns it.
func (p *Publisher) Enqueue(ctx context.Context, req EnqueueRequest) (Task, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	task := Task{
		ID:          uuid.NewString(),
		BlobLocator: req.BlobLocator,
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		RequestID:   req.RequestID,
		EnqueuedAt:  now().UTC().Format(time.RFC3339),
		Version:     TaskVersion,
	}
	body, err := EncodeTask(task)
	if err != nil {
		return Task{}, fmt.Errorf("encode task: %w", err)
	}
	if err := p.Sender.Send(ctx, body); err != nil {
		return Task{}, err
	}
	return task, nil
}
