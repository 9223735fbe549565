package queue

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const defaultMemoryPoll = time.Second

type memoryItem struct {
	id    string
	body  string
	count int
}

// MemoryQueue is an in-process queue for dev mode and tests.
type MemoryQueue struct {
	items chan memoryItem
	seq   atomic.Int64
	poll  time.Duration

	mu       sync.Mutex
	inflight map[string]memoryItem
}

// NewMemoryQueue constructs a MemoryQueue holding up to capacity pending tasks.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		items:    make(chan memoryItem, capacity),
		poll:     defaultMemoryPoll,
		inflight: make(map[string]memoryItem),
	}
}

// Send enqueues a body, blocking while the queue is full.
func (q *MemoryQueue) Send(ctx context.Context, body []byte) error {
	item := memoryItem{id: strconv.FormatInt(q.seq.Add(1), 10), body: string(body)}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to the poll window for the first item, then drains up to max-1 more.
func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(q.poll)
	defer timer.Stop()

	var first memoryItem
	select {
	case first = <-q.items:
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := []Delivery{q.take(first)}
	for len(out) < max {
		select {
		case item := <-q.items:
			out = append(out, q.take(item))
		default:
			return out, nil
		}
	}
	return out, nil
}

func (q *MemoryQueue) take(item memoryItem) Delivery {
	item.count++
	q.mu.Lock()
	q.inflight[item.id] = item
	q.mu.Unlock()
	return Delivery{ID: item.id, Body: item.body, ReceiveCount: item.count, receipt: item.id}
}

// Ack forgets the delivery.
func (q *MemoryQueue) Ack(_ context.Context, d Delivery) error {
	q.mu.Lock()
	delete(q.inflight, d.receipt)
	q.mu.Unlock()
	return nil
}

// Nack puts the delivery back on the queue.
func (q *MemoryQueue) Nack(ctx context.Context, d Delivery) error {
	q.mu.Lock()
	item, ok := q.inflight[d.receipt]
	delete(q.inflight, d.receipt)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports pending plus in-flight deliveries.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + len(q.inflight)
}

var _ Backend = (*MemoryQueue)(nil)
