package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPoll = 2 * time.Second

// RedisQueue is a reliable list queue: receiving moves a body onto a
// processing list, acking removes it from there.
type RedisQueue struct {
	rdb        *redis.Client
	key        string
	processing string
	counts     string
	poll       time.Duration
}

// NewRedisQueue connects to addr and verifies the connection.
func NewRedisQueue(ctx context.Context, addr, password, key string) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisQueueFromClient(rdb, key), nil
}

// NewRedisQueueFromClient wraps an existing client.
func NewRedisQueueFromClient(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "ingest:tasks"
	}
	return &RedisQueue{
		rdb:        rdb,
		key:        key,
		processing: key + ":processing",
		counts:     key + ":deliveries",
		poll:       defaultRedisPoll,
	}
}

// Send pushes a task body onto the queue.
func (q *RedisQueue) Send(ctx context.Context, body []byte) error {
	if err := q.rdb.LPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Receive waits up to the poll window for one body, then drains up to max-1
// more without blocking.
func (q *RedisQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	body, err := q.rdb.BRPopLPush(ctx, q.key, q.processing, q.poll).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("redis brpoplpush: %w", err)
	}

	out := []Delivery{}
	d, err := q.delivery(ctx, body)
	if err != nil {
		return nil, err
	}
	out = append(out, d)

	for len(out) < max {
		body, err := q.rdb.RPopLPush(ctx, q.key, q.processing).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return out, nil
		}
		d, err := q.delivery(ctx, body)
		if err != nil {
			return out, nil
		}
		out = append(out, d)
	}
	return out, nil
}

func (q *RedisQueue) delivery(ctx context.Context, body string) (Delivery, error) {
	id := bodyID(body)
	count, err := q.rdb.HIncrBy(ctx, q.counts, id, 1).Result()
	if err != nil {
		// The body is already on the processing list; hand it back so it is
		// not stranded until the next Recover.
		if restoreErr := q.restore(context.WithoutCancel(ctx), body); restoreErr != nil {
			return Delivery{}, fmt.Errorf("redis hincrby: %w (restore: %v)", err, restoreErr)
		}
		return Delivery{}, fmt.Errorf("redis hincrby: %w", err)
	}
	return Delivery{ID: id, Body: body, ReceiveCount: int(count), receipt: body}, nil
}

func (q *RedisQueue) restore(ctx context.Context, body string) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processing, 1, body)
	pipe.RPush(ctx, q.key, body)
	_, err := pipe.Exec(ctx)
	return err
}

// Ack removes the body from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processing, 1, d.receipt)
	pipe.HDel(ctx, q.counts, d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis ack: %w", err)
	}
	return nil
}

// Nack moves the body from the processing list back to the consuming end of the queue.
func (q *RedisQueue) Nack(ctx context.Context, d Delivery) error {
	if err := q.restore(ctx, d.receipt); err != nil {
		return fmt.Errorf("redis nack: %w", err)
	}
	return nil
}

// Recover returns bodies stranded on the processing list by a crashed worker
// to the queue. Run it before any consumer of this key starts.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.rdb.RPopLPush(ctx, q.processing, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redis recover: %w", err)
		}
		moved++
	}
}

// Ping verifies the connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func bodyID(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:8])
}

var _ Backend = (*RedisQueue)(nil)
