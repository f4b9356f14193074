package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imrishuroy/go-product-relay/internal/aws"
	"github.com/imrishuroy/go-product-relay/internal/product"
)

// SQS message attribute names set on forwarded deliveries.
const (
	AttrDeliveryID = "delivery_id"
	AttrTopic      = "topic"
)

// Envelope is one verified webhook delivery. It is the SQS message body
// sent from the api to the worker.
type Envelope struct {
	DeliveryID string          `json:"delivery_id"`
	Topic      product.Topic   `json:"topic"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Sink accepts verified deliveries. Accept must not block on publishing.
type Sink interface {
	Accept(ctx context.Context, env Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, env Envelope) error

// Accept implements Sink.
func (f SinkFunc) Accept(ctx context.Context, env Envelope) error { return f(ctx, env) }

// SQSSink forwards deliveries to the ingest queue.
type SQSSink struct {
	publisher *aws.Publisher
}

// NewSQSSink returns a sink backed by publisher.
func NewSQSSink(publisher *aws.Publisher) *SQSSink {
	return &SQSSink{publisher: publisher}
}

// Accept implements Sink.
func (s *SQSSink) Accept(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	d := aws.Delivery{
		ID:   env.DeliveryID,
		Body: string(body),
		Attributes: map[string]string{
			AttrDeliveryID: env.DeliveryID,
			AttrTopic:      string(env.Topic),
		},
	}
	if err := s.publisher.SendDelivery(ctx, d); err != nil {
		return fmt.Errorf("forward delivery %s: %w", env.DeliveryID, err)
	}
	return nil
}

// DeliveryHandler is the in-process relay entry point.
type DeliveryHandler interface {
	HandleDelivery(topic product.Topic, raw []byte) error
}

// RelaySink hands deliveries straight to an in-process relay.
type RelaySink struct {
	relay DeliveryHandler
}

// NewRelaySink returns a sink feeding h.
func NewRelaySink(h DeliveryHandler) *RelaySink {
	return &RelaySink{relay: h}
}

// Accept implements Sink.
func (s *RelaySink) Accept(_ context.Context, env Envelope) error {
	return s.relay.HandleDelivery(env.Topic, env.Payload)
}
