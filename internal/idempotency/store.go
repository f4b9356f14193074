// Package idempotency remembers webhook delivery ids so redeliveries are
// acknowledged without being processed twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-product-relay/internal/aws"
)

// DynamoStore keeps delivery ids in DynamoDB, relying on the table TTL on
// expires_at for cleanup.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore returns a configured DynamoStore.
// ttlWindow: how long a delivery id is remembered (e.g., 48*time.Hour)
func NewDynamoStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

func (s *DynamoStore) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"delivery_id": &types.AttributeValueMemberS{Value: key},
	}
}

// Claim creates an IN_PROGRESS entry unless a live one exists. Entries past
// expires_at count as absent since TTL deletion lags.
func (s *DynamoStore) Claim(ctx context.Context, key, topic string) (bool, error) {
	now := s.nowFunc()
	rec := DeliveryRecord{
		DeliveryID: key,
		Status:     StatusInProgress,
		Topic:      topic,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(delivery_id) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}

	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Get retrieves a delivery record by key. If not found, returns (nil, nil).
func (s *DynamoStore) Get(ctx context.Context, key string) (*DeliveryRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       s.key(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec DeliveryRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone moves the entry to DONE.
func (s *DynamoStore) MarkDone(ctx context.Context, key string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(key),
		UpdateExpression: awsString("SET #s = :done, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// Release forgets the entry.
func (s *DynamoStore) Release(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       s.key(key),
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// Helper
func awsString(s string) *string { return &s }
