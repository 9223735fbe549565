package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	defaultSQSWaitSeconds       = 20
	defaultSQSVisibilitySeconds = 300
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSQueue sends and receives tasks through AWS SQS.
type SQSQueue struct {
	client            sqsAPI
	queueURL          string
	waitSeconds       int32
	visibilitySeconds int32
}

// NewSQSQueue constructs an SQS-backed queue.
func NewSQSQueue(ctx context.Context, region, queueURL string) (*SQSQueue, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSQSQueue(sqs.NewFromConfig(cfg), queueURL), nil
}

func newSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	return &SQSQueue{
		client:            client,
		queueURL:          queueURL,
		waitSeconds:       defaultSQSWaitSeconds,
		visibilitySeconds: defaultSQSVisibilitySeconds,
	}
}

// Send delivers a task body to the configured SQS queue.
func (s *SQSQueue) Send(ctx context.Context, body []byte) error {
	_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Receive long-polls SQS for up to max messages.
func (s *SQSQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 || max > 10 {
		max = 10
	}
	resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     s.waitSeconds,
		VisibilityTimeout:   s.visibilitySeconds,
		AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	out := make([]Delivery, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		out = append(out, DeliveryFromSQS(msg))
	}
	return out, nil
}

// Ack deletes the message from SQS.
func (s *SQSQueue) Ack(ctx context.Context, d Delivery) error {
	if d.receipt == "" {
		return errors.New("missing receipt handle")
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(d.receipt),
	}); err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

// Nack resets the visibility timeout so SQS redelivers the message now.
func (s *SQSQueue) Nack(ctx context.Context, d Delivery) error {
	if d.receipt == "" {
		return errors.New("missing receipt handle")
	}
	if _, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.queueURL),
		ReceiptHandle:     aws.String(d.receipt),
		VisibilityTimeout: 0,
	}); err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

// DeliveryFromSQS converts an SQS message, keeping its receipt handle for Ack.
func DeliveryFromSQS(msg sqstypes.Message) Delivery {
	return Delivery{
		ID:           aws.ToString(msg.MessageId),
		Body:         aws.ToString(msg.Body),
		ReceiveCount: receiveCount(msg.Attributes),
		receipt:      aws.ToString(msg.ReceiptHandle),
	}
}

func receiveCount(attrs map[string]string) int {
	if attrs == nil {
		return 0
	}
	raw := attrs["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

var _ Backend = (*SQSQueue)(nil)
