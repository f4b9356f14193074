// Package relay wires the event pipeline: normalize, debounce, cool down,
// queue. Inbound callers only schedule work and return.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/debounce"
	"github.com/imrishuroy/go-product-relay/internal/product"
	"github.com/imrishuroy/go-product-relay/internal/queue"
	"github.com/imrishuroy/go-product-relay/internal/relayerr"
	"github.com/imrishuroy/go-product-relay/internal/syncstore"
)

// Options tunes the pipeline timers.
type Options struct {
	DebounceDelay  time.Duration
	CoolDownPeriod time.Duration
}

// Relay owns the coalescer, the cooldown gate and the queue.
type Relay struct {
	normalizer *product.Normalizer
	coalescer  *debounce.Coalescer
	cooldown   *queue.Cooldown
	queue      *queue.Queue
	store      syncstore.Store
	logger     *zap.Logger
}

// New builds the pipeline in front of q.
func New(opts Options, clock clockwork.Clock, normalizer *product.Normalizer, q *queue.Queue, store syncstore.Store, logger *zap.Logger) *Relay {
	r := &Relay{
		normalizer: normalizer,
		queue:      q,
		store:      store,
		logger:     logger.Named("relay"),
	}
	r.cooldown = queue.NewCooldown(clock, opts.CoolDownPeriod, r.admit, logger)
	r.coalescer = debounce.New(clock, opts.DebounceDelay, r.cooldown.Admit, r.retire, logger)
	return r
}

func (r *Relay) admit(ev product.Event) {
	r.queue.Enqueue(queue.NewItem(ev, queue.ReasonWebhook))
}

// retire runs for non-active and deleted products. It skips any cooldown
// and goes to the head of the queue.
func (r *Relay) retire(ev product.Event) {
	r.cooldown.Cancel(ev.ID)
	r.queue.EnqueueFront(queue.NewItem(ev, queue.ReasonWebhook))
}

// OnCreate schedules a newly created product.
func (r *Relay) OnCreate(ev product.Event) { r.coalescer.OnEvent(ev) }

// OnUpdate schedules an updated product.
func (r *Relay) OnUpdate(ev product.Event) { r.coalescer.OnEvent(ev) }

// OnDelete retires a deleted product immediately.
func (r *Relay) OnDelete(ev product.Event) {
	ev.Topic = product.TopicDelete
	r.coalescer.OnEvent(ev)
}

// HandleDelivery normalizes a raw webhook body and dispatches it by topic.
// Malformed payloads are logged and returned as validation errors.
func (r *Relay) HandleDelivery(topic product.Topic, raw []byte) error {
	ev, err := r.normalizer.Normalize(topic, raw)
	if err != nil {
		r.logger.Warn("dropping malformed event", zap.String("topic", string(topic)), zap.Error(err))
		return err
	}
	switch topic {
	case product.TopicCreate:
		r.OnCreate(ev)
	case product.TopicUpdate:
		r.OnUpdate(ev)
	case product.TopicDelete:
		r.OnDelete(ev)
	default:
		return fmt.Errorf("%w: unknown topic %q", relayerr.ErrValidation, topic)
	}
	return nil
}

// EnqueueReconciled sends a reconciled product straight to the queue.
func (r *Relay) EnqueueReconciled(ev product.Event) {
	r.queue.Enqueue(queue.NewItem(ev, queue.ReasonReconcile))
}

// Run consumes the queue until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	err := r.queue.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop drops pending debounce and cooldown timers and closes the queue.
func (r *Relay) Stop() {
	r.coalescer.Stop()
	r.cooldown.Stop()
	r.queue.Close()
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	PendingDebounce int         `json:"pending_debounce"`
	CoolingDown     int         `json:"cooling_down"`
	Queue           queue.Stats `json:"queue"`
	IntervalSeconds float64     `json:"interval_seconds"`
}

// Status returns the current pipeline state.
func (r *Relay) Status() Status {
	qs := r.queue.Stats()
	return Status{
		PendingDebounce: r.coalescer.Pending(),
		CoolingDown:     r.cooldown.Waiting(),
		Queue:           qs,
		IntervalSeconds: qs.Rate.Interval.Seconds(),
	}
}

// Record returns the stored sync record for a product, nil if unknown.
func (r *Relay) Record(ctx context.Context, productID string) (*syncstore.Record, error) {
	return r.store.Get(ctx, productID)
}
