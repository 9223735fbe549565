package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"cvsearch-backend/internal/bootstrap"
	"cvsearch-backend/internal/queue"
	"cvsearch-backend/internal/shared/config"
	"cvsearch-backend/internal/shared/telemetry"
	"cvsearch-backend/internal/workerproc"
)

type recoverer interface {
	Recover(ctx context.Context) (int, error)
}

func main() {
	cfg := config.Load()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	if app.InProcessWorkers() {
		log.Fatal("QUEUE_BACKEND=memory is only served by the API process; use sqs or redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started backend=%s concurrency=%d", cfg.QueueBackend, cfg.WorkerConcurrency)
	if err := run(ctx, app.Queue, app.NewPool("worker")); err != nil {
		log.Fatalf("worker: %v", err)
	}
	log.Printf("worker stopped")
}

// run requeues deliveries stranded by a previous crash, then consumes until
// ctx is done. Recovery must finish before any consumer of the same queue
// starts.
func run(ctx context.Context, backend queue.Backend, pool *workerproc.Pool) error {
	if r, ok := backend.(recoverer); ok {
		n, err := r.Recover(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			telemetry.Warn("worker.recovered", map[string]any{"count": n})
		}
	}
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
