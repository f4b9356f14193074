package aws

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// BatchHandler processes one batch of SQS messages and reports the ones
// that must stay on the queue.
type BatchHandler func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error)

// Consumer long-polls an SQS queue and hands each batch to a BatchHandler,
// in the same shape the Lambda runtime would.
type Consumer struct {
	sqs      SQSAPI
	queueURL string
	handler  BatchHandler
	clock    clockwork.Clock
	logger   *zap.Logger

	waitSeconds int32
	maxMessages int32
	errorDelay  time.Duration
}

// NewConsumer creates a consumer for queueURL. After a failed poll Run
// waits errorDelay on clock before polling again.
func NewConsumer(sqsClient SQSAPI, queueURL string, handler BatchHandler, clock clockwork.Clock, logger *zap.Logger) *Consumer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Consumer{
		sqs:         sqsClient,
		queueURL:    queueURL,
		handler:     handler,
		clock:       clock,
		logger:      logger.Named("sqs-consumer"),
		waitSeconds: 20,
		maxMessages: 10,
		errorDelay:  5 * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("consumer started", zap.String("queue_url", c.queueURL))
	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return
		}
		if err := c.PollOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-c.clock.After(c.errorDelay):
			}
		}
	}
}

// PollOnce receives one batch, dispatches it and deletes the messages the
// handler accepted.
func (c *Consumer) PollOnce(ctx context.Context) error {
	out, err := c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    &c.queueURL,
		MaxNumberOfMessages:         c.maxMessages,
		WaitTimeSeconds:             c.waitSeconds,
		MessageAttributeNames:       []string{"All"},
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameAll},
	})
	if err != nil {
		return err
	}
	if len(out.Messages) == 0 {
		return nil
	}

	batch := events.SQSEvent{Records: make([]events.SQSMessage, 0, len(out.Messages))}
	receipts := make(map[string]string, len(out.Messages))
	for _, m := range out.Messages {
		rec := events.SQSMessage{
			MessageId:         deref(m.MessageId),
			ReceiptHandle:     deref(m.ReceiptHandle),
			Body:              deref(m.Body),
			Attributes:        m.Attributes,
			MessageAttributes: map[string]events.SQSMessageAttribute{},
			EventSource:       "aws:sqs",
		}
		for k, v := range m.MessageAttributes {
			rec.MessageAttributes[k] = events.SQSMessageAttribute{
				StringValue: v.StringValue,
				DataType:    deref(v.DataType),
			}
		}
		batch.Records = append(batch.Records, rec)
		receipts[rec.MessageId] = rec.ReceiptHandle
	}

	resp, err := c.handler(ctx, batch)
	if err != nil {
		// whole batch stays on the queue and becomes visible again
		return err
	}

	keep := make(map[string]struct{}, len(resp.BatchItemFailures))
	for _, f := range resp.BatchItemFailures {
		keep[f.ItemIdentifier] = struct{}{}
	}
	for id, receipt := range receipts {
		if _, failed := keep[id]; failed {
			continue
		}
		if _, err := c.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &c.queueURL,
			ReceiptHandle: awsString(receipt),
		}); err != nil {
			c.logger.Warn("delete message failed", zap.String("message_id", id), zap.Error(err))
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
