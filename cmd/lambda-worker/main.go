package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"cvsearch-backend/internal/bootstrap"
	"cvsearch-backend/internal/ingest"
	"cvsearch-backend/internal/shared/config"
	"cvsearch-backend/internal/shared/metrics"
	"cvsearch-backend/internal/shared/telemetry"
	"cvsearch-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}

	return handleBatch(ctx, app.Processor, app.Failures, event.Records), nil
}

// handleBatch reports only the records that must be redelivered. Settled
// tasks and unrecoverable payloads are left out so SQS deletes them.
func handleBatch(ctx context.Context, proc workerproc.TaskProcessor, failureStore ingest.FailureStore, records []events.SQSMessage) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range records {
		metrics.IncIngestReceived()
		_, err := workerproc.HandleMessage(ctx, proc, record.Body)
		if err == nil {
			continue
		}
		fields := map[string]any{
			"sqs_message_id": record.MessageId,
			"receive_count":  record.Attributes["ApproximateReceiveCount"],
			"error":          err.Error(),
		}
		if workerproc.Unrecoverable(err) {
			metrics.IncIngestUndecoded()
			telemetry.Error("worker.task.unrecoverable", fields)
			if recErr := workerproc.RecordUnrecoverable(ctx, failureStore, err); recErr != nil {
				fields["record_error"] = recErr.Error()
				telemetry.Error("worker.failure_record_failed", fields)
			}
			continue
		}
		telemetry.Error("worker.task.requeued", fields)
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
