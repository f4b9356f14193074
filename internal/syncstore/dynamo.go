package syncstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/aws"
)

// DynamoStore keeps one item per product in a DynamoDB table keyed by product_id.
// Each Put is a single-item write, so a record is never half written.
// Writes are retried on top of the SDK retryer, paced by the injected clock.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	retry     writeRetry
}

// NewDynamoStore creates a new sync Store backed by tableName.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string, clock clockwork.Clock, logger *zap.Logger) *DynamoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		retry:     newWriteRetry(clock, logger.Named("syncstore").With(zap.String("table", tableName))),
	}
}

func (s *DynamoStore) key(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}

// Get fetches a record by product_id. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, productID string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(productID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// Put overwrites the record for rec.ProductID.
func (s *DynamoStore) Put(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.retry.do(ctx, "put item", func() error {
		_, err := s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName: &s.tableName,
			Item:      item,
		})
		return err
	})
}

// Delete removes the record for productID; deleting a missing record is not an error.
func (s *DynamoStore) Delete(ctx context.Context, productID string) error {
	return s.retry.do(ctx, "delete item", func() error {
		_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
			TableName: &s.tableName,
			Key:       s.key(productID),
		})
		return err
	})
}

// All scans the whole table, following pagination.
func (s *DynamoStore) All(ctx context.Context) ([]Record, error) {
	var (
		out   []Record
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: start,
			ConsistentRead:    awsBool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var recs []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal records: %w", err)
		}
		out = append(out, recs...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func awsBool(b bool) *bool { return &b }

var _ Store = (*DynamoStore)(nil)
