package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/handlers"
	"github.com/imrishuroy/go-product-relay/internal/product"
	"github.com/imrishuroy/go-product-relay/internal/relayerr"
)

// Processor hands SQS deliveries to the in-process relay.
type Processor struct {
	relay  handlers.DeliveryHandler
	logger *zap.Logger
}

// NewProcessor creates a processor feeding relay.
func NewProcessor(relay handlers.DeliveryHandler, logger *zap.Logger) *Processor {
	return &Processor{relay: relay, logger: logger.Named("processor")}
}

// Handle receives an SQS batch. Malformed messages are logged and acked;
// anything else that fails is reported back so SQS redelivers it.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if ctx.Err() != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
			continue
		}
		err := p.processMessage(rec)
		switch {
		case err == nil:
		case errors.Is(err, relayerr.ErrValidation):
			p.logger.Warn("dropping message", zap.String("message_id", rec.MessageId), zap.Error(err))
		default:
			p.logger.Error("message failed", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(rec events.SQSMessage) error {
	var env handlers.Envelope
	if err := json.Unmarshal([]byte(rec.Body), &env); err != nil {
		return errors.Join(relayerr.ErrValidation, err)
	}
	if env.Topic == "" {
		if attr, ok := rec.MessageAttributes[handlers.AttrTopic]; ok && attr.StringValue != nil {
			env.Topic = product.Topic(*attr.StringValue)
		}
	}
	topic, ok := product.ParseTopic(string(env.Topic))
	if !ok {
		return errors.Join(relayerr.ErrValidation, errors.New("message without a known topic"))
	}

	p.logger.Debug("delivery received",
		zap.String("delivery_id", env.DeliveryID),
		zap.String("topic", string(topic)),
	)
	return p.relay.HandleDelivery(topic, env.Payload)
}
