package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-product-relay/internal/aws"
	"github.com/imrishuroy/go-product-relay/internal/config"
)

// Open builds the Store selected by cfg.Backend. dynamo is only used by the
// dynamodb backend.
func Open(ctx context.Context, cfg config.DedupeConfig, dynamo aws.DynamoDBAPI) (Store, error) {
	switch cfg.Backend {
	case config.DedupeBackendMemory, "":
		return NewMemoryStore(cfg.TTL), nil
	case config.DedupeBackendDynamoDB:
		if dynamo == nil {
			return nil, errors.New("dedupe: dynamodb backend needs a client")
		}
		return NewDynamoStore(dynamo, cfg.Table, cfg.TTL), nil
	case config.DedupeBackendRedis:
		return NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.TTL)
	default:
		return nil, fmt.Errorf("dedupe: unknown backend %q", cfg.Backend)
	}
}
