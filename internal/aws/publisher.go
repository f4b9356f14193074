package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// defaultGroupID orders every delivery on a FIFO ingest queue as one stream.
const defaultGroupID = "deliveries"

// Delivery is one message for the ingest queue.
type Delivery struct {
	// ID is the webhook delivery id. On a FIFO queue it is also the
	// deduplication id, so a redelivered webhook is dropped by SQS.
	ID string
	// Body is the JSON envelope the worker decodes.
	Body string
	// Attributes become string MessageAttributes. Empty values are skipped.
	Attributes map[string]string
	// GroupID overrides the FIFO message group.
	GroupID string
}

// Publisher sends deliveries to the ingest queue.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	fifo     bool
}

// NewPublisher returns a Publisher bound to a queue URL. A URL ending in
// .fifo switches on message groups and deduplication ids.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// SendDelivery sends d to the ingest queue.
func (p *Publisher) SendDelivery(ctx context.Context, d Delivery) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &d.Body,
	}
	if len(d.Attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range d.Attributes {
			if v == "" {
				// SQS rejects empty attribute values
				continue
			}
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}
	if p.fifo {
		group := d.GroupID
		if group == "" {
			group = defaultGroupID
		}
		input.MessageGroupId = awsString(group)
		if d.ID != "" {
			input.MessageDeduplicationId = awsString(d.ID)
		}
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send delivery %s: %w", d.ID, err)
	}
	return nil
}

func awsString(s string) *string { return &s }
