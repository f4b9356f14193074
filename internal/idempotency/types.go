package idempotency

import (
	"context"
	"time"
)

// Status values for delivery entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// DeliveryRecord is the shape persisted in the deliveries DynamoDB table.
type DeliveryRecord struct {
	DeliveryID string    `dynamodbav:"delivery_id"` // PK
	Status     string    `dynamodbav:"status"`
	Topic      string    `dynamodbav:"topic,omitempty"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
	UpdatedAt  time.Time `dynamodbav:"updated_at"`
	ExpiresAt  int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

// Store de-duplicates webhook deliveries. A delivery is claimed before it
// is handed to the relay, marked done once accepted, and released when
// handling failed so a redelivery is processed again.
type Store interface {
	// Claim returns true when key was not seen within the TTL window.
	Claim(ctx context.Context, key, topic string) (bool, error)
	MarkDone(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}
