package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client the store needs.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps delivery ids as expiring keys, suitable when several
// ingress instances share one dedupe window.
type RedisStore struct {
	client    redisClient
	keyPrefix string
	ttl       time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, "relay:delivery:", ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redisClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "relay:delivery:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Claim uses SETNX so concurrent deliveries race on one atomic write.
func (s *RedisStore) Claim(ctx context.Context, key, topic string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, StatusInProgress, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery: %w", err)
	}
	return ok, nil
}

// MarkDone keeps the key and its remaining TTL.
func (s *RedisStore) MarkDone(ctx context.Context, key string) error {
	if err := s.client.Set(ctx, s.keyPrefix+key, StatusDone, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark delivery done: %w", err)
	}
	return nil
}

// Release deletes the key.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release delivery: %w", err)
	}
	return nil
}
