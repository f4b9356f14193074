package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/imrishuroy/go-product-relay/internal/config"
)

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.DedupeConfig{Backend: config.DedupeBackendMemory, TTL: time.Hour}, nil)
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", s)
	}

	s, err = Open(ctx, config.DedupeConfig{Backend: config.DedupeBackendDynamoDB, Table: "deliveries", TTL: time.Hour}, newSimpleMock())
	if err != nil {
		t.Fatalf("dynamodb backend: %v", err)
	}
	if _, ok := s.(*DynamoStore); !ok {
		t.Fatalf("expected *DynamoStore, got %T", s)
	}

	if _, err := Open(ctx, config.DedupeConfig{Backend: config.DedupeBackendDynamoDB}, nil); err == nil {
		t.Fatal("expected error for dynamodb backend without a client")
	}
	if _, err := Open(ctx, config.DedupeConfig{Backend: "etcd"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
