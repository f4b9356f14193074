package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-product-relay/internal/product"
)

// Reason records why an item entered the queue.
type Reason string

const (
	ReasonWebhook   Reason = "webhook"
	ReasonRetry     Reason = "retry"
	ReasonReconcile Reason = "reconcile"
)

// Action selects what the processor does with the item's event.
type Action string

const (
	ActionPublish Action = "publish"
	ActionRetire  Action = "retire"
)

// Outcome is what a processor reports for a successful attempt.
type Outcome string

const (
	OutcomePublished   Outcome = "published"
	OutcomeUpdated     Outcome = "updated"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeRetired     Outcome = "retired"
	OutcomeFailed      Outcome = "failed"
	OutcomeRateLimited Outcome = "rate_limited"
)

// Item is one unit of work owned by the queue until dequeued.
type Item struct {
	ID         string
	Event      product.Event
	Reason     Reason
	Action     Action
	Attempt    int
	EnqueuedAt time.Time
}

// NewItem builds an item for ev. Non-publishable events become retire actions.
func NewItem(ev product.Event, reason Reason) Item {
	action := ActionPublish
	if !ev.Publishable() {
		action = ActionRetire
	}
	return Item{
		ID:      uuid.NewString(),
		Event:   ev,
		Reason:  reason,
		Action:  action,
		Attempt: 1,
	}
}

// ProductID returns the id of the product the item acts on.
func (i Item) ProductID() string { return i.Event.ID }
