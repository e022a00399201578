package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// SQSAPI is the subset of the SQS client the queue needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue stores refund tasks in SQS. A failed task is left undeleted and
// comes back after the visibility timeout; ApproximateReceiveCount bounds the
// number of deliveries.
type SQSQueue struct {
	Client            SQSAPI
	QueueURL          string
	MaxAttempts       int
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	Log               *zap.Logger
}

func NewSQSQueue(client SQSAPI, queueURL string, maxAttempts int, log *zap.Logger) *SQSQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQSQueue{
		Client:            client,
		QueueURL:          queueURL,
		MaxAttempts:       normalizeAttempts(maxAttempts),
		WaitTimeSeconds:   20,
		VisibilityTimeout: 30,
		Log:               log,
	}
}

func (q *SQSQueue) Enqueue(ctx context.Context, task RefundTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	body, err := encodeTask(task)
	if err != nil {
		return err
	}
	_, err = q.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.QueueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("enqueue refund for booking %d: %w", task.BookingID, err)
	}
	return nil
}

func (q *SQSQueue) Run(ctx context.Context, h Handler) error {
	q.Log.Info("refund queue polling started", zap.String("queue_url", q.QueueURL))
	for {
		if err := ctx.Err(); err != nil {
			q.Log.Info("refund queue polling stopped")
			return err
		}
		if err := q.PollOnce(ctx, h); err != nil && ctx.Err() == nil {
			q.Log.Error("refund queue poll failed", zap.Error(err))
		}
	}
}

// PollOnce receives one batch and handles every message in it.
func (q *SQSQueue) PollOnce(ctx context.Context, h Handler) error {
	out, err := q.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.QueueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     q.WaitTimeSeconds,
		VisibilityTimeout:   q.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return fmt.Errorf("receive refund tasks: %w", err)
	}
	for _, msg := range out.Messages {
		q.handle(ctx, h, msg)
	}
	return nil
}

func (q *SQSQueue) handle(ctx context.Context, h Handler, msg types.Message) {
	attempt := receiveCount(msg)
	body := aws.ToString(msg.Body)

	task, err := decodeTask(body)
	if err != nil {
		q.Log.Error("dropping malformed refund task", zap.String("body", body), zap.Error(err))
		q.delete(ctx, msg)
		return
	}

	err = h(ctx, task, attempt)
	switch {
	case err == nil:
		q.delete(ctx, msg)
	case attempt >= q.MaxAttempts:
		q.Log.Error("refund task dropped after max attempts",
			zap.Int64("booking_id", task.BookingID),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		q.delete(ctx, msg)
	default:
		q.Log.Warn("refund task failed, will be redelivered",
			zap.Int64("booking_id", task.BookingID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

func (q *SQSQueue) delete(ctx context.Context, msg types.Message) {
	_, err := q.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		q.Log.Error("delete refund task", zap.Error(err))
	}
}

func receiveCount(msg types.Message) int {
	raw := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
