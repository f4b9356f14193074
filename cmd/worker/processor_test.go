package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/handlers"
	"github.com/imrishuroy/go-product-relay/internal/product"
	"github.com/imrishuroy/go-product-relay/internal/relayerr"
)

// --- mock relay ---

type call struct {
	topic product.Topic
	raw   string
}

type mockRelay struct {
	calls []call
	fail  map[string]error // keyed by raw payload
}

func (m *mockRelay) HandleDelivery(topic product.Topic, raw []byte) error {
	m.calls = append(m.calls, call{topic: topic, raw: string(raw)})
	return m.fail[string(raw)]
}

func message(t *testing.T, id string, env handlers.Envelope) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

// --- test cases ---

func TestProcessor_HandlesBatch(t *testing.T) {
	relay := &mockRelay{}
	p := NewProcessor(relay, zap.NewNop())

	ev := events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", handlers.Envelope{DeliveryID: "d1", Topic: product.TopicCreate, Payload: json.RawMessage(`{"id":1}`)}),
		message(t, "m2", handlers.Envelope{DeliveryID: "d2", Topic: product.TopicDelete, Payload: json.RawMessage(`{"id":2}`)}),
	}}

	resp, err := p.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected no failures, got %v", resp.BatchItemFailures)
	}
	if len(relay.calls) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(relay.calls))
	}
	if relay.calls[1].topic != product.TopicDelete || relay.calls[1].raw != `{"id":2}` {
		t.Fatalf("unexpected second delivery: %+v", relay.calls[1])
	}
}

func TestProcessor_TopicFromAttribute(t *testing.T) {
	relay := &mockRelay{}
	p := NewProcessor(relay, zap.NewNop())

	msg := message(t, "m1", handlers.Envelope{DeliveryID: "d1", Payload: json.RawMessage(`{"id":1}`)})
	topic := "products/update"
	msg.MessageAttributes = map[string]events.SQSMessageAttribute{
		handlers.AttrTopic: {StringValue: &topic, DataType: "String"},
	}

	if _, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{msg}}); err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if len(relay.calls) != 1 || relay.calls[0].topic != product.TopicUpdate {
		t.Fatalf("expected one update delivery, got %+v", relay.calls)
	}
}

func TestProcessor_DropsMalformedMessages(t *testing.T) {
	relay := &mockRelay{fail: map[string]error{
		`{"title":""}`: fmt.Errorf("%w: decode payload", relayerr.ErrValidation),
	}}
	p := NewProcessor(relay, zap.NewNop())

	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad-json", Body: "not json"},
		message(t, "no-topic", handlers.Envelope{DeliveryID: "d1", Payload: json.RawMessage(`{"id":1}`)}),
		message(t, "invalid", handlers.Envelope{DeliveryID: "d2", Topic: product.TopicCreate, Payload: json.RawMessage(`{"title":""}`)}),
	}}

	resp, err := p.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("malformed messages must be acked, got failures %v", resp.BatchItemFailures)
	}
	if len(relay.calls) != 1 {
		t.Fatalf("expected only the decodable message to reach the relay, got %d", len(relay.calls))
	}
}

func TestProcessor_ReportsFailures(t *testing.T) {
	relay := &mockRelay{fail: map[string]error{`{"id":2}`: errors.New("relay closed")}}
	p := NewProcessor(relay, zap.NewNop())

	ev := events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", handlers.Envelope{Topic: product.TopicCreate, Payload: json.RawMessage(`{"id":1}`)}),
		message(t, "m2", handlers.Envelope{Topic: product.TopicCreate, Payload: json.RawMessage(`{"id":2}`)}),
	}}

	resp, err := p.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("expected m2 to be retried, got %v", resp.BatchItemFailures)
	}
}

func TestProcessor_CancelledContextKeepsMessages(t *testing.T) {
	relay := &mockRelay{}
	p := NewProcessor(relay, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", handlers.Envelope{Topic: product.TopicCreate, Payload: json.RawMessage(`{"id":1}`)}),
	}}

	resp, err := p.Handle(ctx, ev)
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("expected the message to stay on the queue, got %v", resp.BatchItemFailures)
	}
	if len(relay.calls) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(relay.calls))
	}
}
