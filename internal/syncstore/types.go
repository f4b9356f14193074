// Package syncstore persists the mapping from product id to the remote post
// created for it.
package syncstore

import (
	"context"
	"errors"
	"time"
)

// Status of a product's remote post.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusFailed   Status = "failed"
	StatusInactive Status = "inactive"
)

// Record is the last known publish state of one product.
type Record struct {
	ProductID       string    `json:"product_id" dynamodbav:"product_id"` // PK
	RemotePostID    string    `json:"remote_post_id,omitempty" dynamodbav:"remote_post_id,omitempty"`
	SecondaryPostID string    `json:"secondary_post_id,omitempty" dynamodbav:"secondary_post_id,omitempty"`
	ContentHash     string    `json:"content_hash,omitempty" dynamodbav:"content_hash,omitempty"`
	Status          Status    `json:"status" dynamodbav:"status"`
	LastError       string    `json:"last_error,omitempty" dynamodbav:"last_error,omitempty"`
	FailureKind     string    `json:"failure_kind,omitempty" dynamodbav:"failure_kind,omitempty"`
	Title           string    `json:"title,omitempty" dynamodbav:"title,omitempty"`
	Attempts        int       `json:"attempts,omitempty" dynamodbav:"attempts,omitempty"`
	UpdatedAt       time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Published reports whether the record is a live post for hash.
func (r *Record) Published(hash string) bool {
	return r != nil && r.Status == StatusActive && r.RemotePostID != "" && r.ContentHash == hash
}

// ErrInvalidRecord is returned by Put for records that break the store invariants.
var ErrInvalidRecord = errors.New("syncstore: invalid record")

// Validate checks the invariants every stored record must hold.
func (r Record) Validate() error {
	if r.ProductID == "" {
		return errors.Join(ErrInvalidRecord, errors.New("missing product id"))
	}
	switch r.Status {
	case StatusActive:
		if r.RemotePostID == "" || r.ContentHash == "" {
			return errors.Join(ErrInvalidRecord, errors.New("active record needs remote post id and content hash"))
		}
	case StatusPending, StatusFailed, StatusInactive:
	default:
		return errors.Join(ErrInvalidRecord, errors.New("unknown status "+string(r.Status)))
	}
	return nil
}

// Store is the durable product id -> Record table.
type Store interface {
	// Get returns (nil, nil) when no record exists.
	Get(ctx context.Context, productID string) (*Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, productID string) error
	// All returns every record ordered by product id.
	All(ctx context.Context) ([]Record, error)
}
