package workerproc

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"cvsearch-backend/internal/ingest"
	"cvsearch-backend/internal/queue"
	"cvsearch-backend/internal/shared/metrics"
	"cvsearch-backend/internal/shared/telemetry"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	settleTimeout          = 10 * time.Second
	receiveErrorPause      = time.Second
)

// Pool runs up to Concurrency tasks at once from a Consumer. Each delivery is
// independent: one failing or slow task never blocks the others beyond its
// own slot.
type Pool struct {
	Consumer        queue.Consumer
	Processor       TaskProcessor
	Concurrency     int
	ShutdownTimeout time.Duration
	Name            string
	// Failures records payloads that name a task but cannot be processed.
	Failures        ingest.FailureStore
}

// Run polls until ctx is done, then waits up to ShutdownTimeout for
// in-flight tasks before cancelling them. Cancelled tasks are nacked.
func (p *Pool) Run(ctx context.Context) error {
	concurrency := max(1, p.Concurrency)
	shutdownTimeout := p.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	sem := make(chan struct{}, concurrency)
	var g errgroup.Group

	telemetry.Info("worker.started", map[string]any{
		"worker":      p.Name,
		"concurrency": concurrency,
	})

pollLoop:
	for ctx.Err() == nil {
		free := concurrency - len(sem)
		if free < 1 {
			free = 1
		}
		deliveries, err := p.Consumer.Receive(ctx, free)
		if err != nil {
			if ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Warn("worker.receive_failed", map[string]any{"worker": p.Name, "error": err.Error()})
			select {
			case <-time.After(receiveErrorPause):
			case <-ctx.Done():
			}
			continue
		}

		for i, d := range deliveries {
			select {
			case <-ctx.Done():
				p.release(deliveries[i:])
				break pollLoop
			case sem <- struct{}{}:
			}
			g.Go(func() error {
				defer func() { <-sem }()
				p.handle(workCtx, d)
				return nil
			})
		}
	}

	telemetry.Info("worker.draining", map[string]any{
		"worker":           p.Name,
		"in_flight":        len(sem),
		"shutdown_timeout": shutdownTimeout.String(),
	})
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"worker": p.Name, "in_flight": len(sem)})
		cancelWork()
		<-done
	}
	telemetry.Info("worker.stopped", map[string]any{"worker": p.Name})
	return nil
}

func (p *Pool) handle(ctx context.Context, d queue.Delivery) {
	metrics.IncIngestReceived()
	res, err := HandleMessage(ctx, p.Processor, d.Body)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	fields := deliveryFields(d)
	switch {
	case err == nil:
		fields["outcome"] = string(res.Outcome)
		if ackErr := p.Consumer.Ack(settleCtx, d); ackErr != nil {
			fields["error"] = ackErr.Error()
			telemetry.Error("worker.ack_failed", fields)
		}
	case Unrecoverable(err):
		meta := ComputeMeta(d.Body)
		fields["body_len"] = meta.BodyLen
		fields["body_sha256"] = meta.BodySHA
		fields["error"] = err.Error()
		telemetry.Error("worker.task.unrecoverable", fields)
		metrics.IncIngestUndecoded()
		if recErr := RecordUnrecoverable(settleCtx, p.Failures, err); recErr != nil {
			fields["record_error"] = recErr.Error()
			telemetry.Error("worker.failure_record_failed", fields)
		}
		if ackErr := p.Consumer.Ack(settleCtx, d); ackErr != nil {
			fields["error"] = ackErr.Error()
			telemetry.Error("worker.ack_failed", fields)
		}
	default:
		fields["error"] = err.Error()
		telemetry.Warn("worker.task.redeliver", fields)
		if nackErr := p.Consumer.Nack(settleCtx, d); nackErr != nil {
			fields["error"] = nackErr.Error()
			telemetry.Error("worker.nack_failed", fields)
		}
	}
}

// release hands deliveries that were received but never started back to the queue.
func (p *Pool) release(deliveries []queue.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	for _, d := range deliveries {
		if err := p.Consumer.Nack(ctx, d); err != nil {
			fields := deliveryFields(d)
			fields["error"] = err.Error()
			telemetry.Error("worker.nack_failed", fields)
		}
	}
}

func deliveryFields(d queue.Delivery) map[string]any {
	return map[string]any{
		"message_id":    d.ID,
		"receive_count": d.ReceiveCount,
	}
}
