// Package queue serializes publishing: a single-consumer FIFO with adaptive
// spacing between attempts, front-of-line retry after rate limiting and a
// cooldown gate in front of it.
package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/metrics"
	"github.com/imrishuroy/go-product-relay/internal/relayerr"
)

// ErrAlreadyRunning is returned by Run when a consumer is already active.
var ErrAlreadyRunning = errors.New("queue: consumer already running")

// Processor executes one item end to end.
type Processor interface {
	Process(ctx context.Context, item Item) (Outcome, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, item Item) (Outcome, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, item Item) (Outcome, error) {
	return f(ctx, item)
}

// State is the consumer state.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
)

// Options configures a Queue.
type Options struct {
	Governor     GovernorConfig
	RetryBackoff time.Duration
}

type backoffEntry struct {
	item  Item
	timer clockwork.Timer
	gen   uint64
}

// Queue owns the pending items, the retry timers and the governor. Only the
// goroutine in Run calls the processor, so no two attempts ever overlap.
type Queue struct {
	clock     clockwork.Clock
	processor Processor
	governor  *Governor
	backoff   time.Duration
	recorder  metrics.Recorder
	logger    *zap.Logger

	mu        sync.Mutex
	items     *list.List // of Item
	retrying  map[string]*backoffEntry
	nextGen   uint64
	state     State
	running   bool
	closed    bool
	processed int
	current   string
	wake      chan struct{}
}

// New creates a Queue. Call Run to start the consumer.
func New(clock clockwork.Clock, processor Processor, opts Options, recorder metrics.Recorder, logger *zap.Logger) *Queue {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Queue{
		clock:     clock,
		processor: processor,
		governor:  NewGovernor(opts.Governor),
		backoff:   opts.RetryBackoff,
		recorder:  recorder,
		logger:    logger.Named("queue"),
		items:     list.New(),
		retrying:  make(map[string]*backoffEntry),
		state:     StateIdle,
		wake:      make(chan struct{}, 1),
	}
}

// Governor exposes the rate governor.
func (q *Queue) Governor() *Governor { return q.governor }

// Enqueue appends item at the tail. A publish for a product that is already
// waiting replaces the waiting event in place, and a publish for a product
// in retry backoff replaces the event the retry will carry.
func (q *Queue) Enqueue(item Item) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("queue closed, dropping item", zap.String("product_id", item.ProductID()))
		return
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.clock.Now()
	}

	if item.Action == ActionPublish {
		if b, ok := q.retrying[item.ProductID()]; ok {
			b.item.Event = item.Event
			b.item.Action = item.Action
			q.mu.Unlock()
			q.logger.Info("superseded event held for retry", zap.String("product_id", item.ProductID()))
			return
		}
		if e := q.findLocked(item.ProductID(), ActionPublish); e != nil {
			queued := e.Value.(Item)
			queued.Event = item.Event
			e.Value = queued
			q.mu.Unlock()
			q.logger.Info("superseded queued event", zap.String("product_id", item.ProductID()))
			return
		}
	}

	q.items.PushBack(item)
	depth := q.items.Len()
	q.mu.Unlock()

	q.logger.Info("enqueued",
		zap.String("product_id", item.ProductID()),
		zap.String("reason", string(item.Reason)),
		zap.String("action", string(item.Action)),
		zap.Int("depth", depth),
	)
	q.signal()
}

// EnqueueFront places item at the head. A retire item also drops any queued
// publish and any pending retry for the same product.
func (q *Queue) EnqueueFront(item Item) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("queue closed, dropping item", zap.String("product_id", item.ProductID()))
		return
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.clock.Now()
	}
	dropped := 0
	if item.Action == ActionRetire {
		dropped = q.dropLocked(item.ProductID())
	}
	q.items.PushFront(item)
	depth := q.items.Len()
	q.mu.Unlock()

	q.logger.Info("enqueued at head",
		zap.String("product_id", item.ProductID()),
		zap.String("reason", string(item.Reason)),
		zap.String("action", string(item.Action)),
		zap.Int("dropped", dropped),
		zap.Int("depth", depth),
	)
	q.signal()
}

func (q *Queue) findLocked(productID string, action Action) *list.Element {
	for e := q.items.Front(); e != nil; e = e.Next() {
		it := e.Value.(Item)
		if it.ProductID() == productID && it.Action == action {
			return e
		}
	}
	return nil
}

func (q *Queue) dropLocked(productID string) int {
	n := 0
	for e := q.items.Front(); e != nil; {
		next := e.Next()
		if it := e.Value.(Item); it.ProductID() == productID && it.Action == ActionPublish {
			q.items.Remove(e)
			n++
		}
		e = next
	}
	if b, ok := q.retrying[productID]; ok {
		b.timer.Stop()
		delete(q.retrying, productID)
		n++
	}
	return n
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.items.Front()
	if e == nil {
		q.state = StateIdle
		q.current = ""
		return Item{}, false
	}
	q.items.Remove(e)
	it := e.Value.(Item)
	q.state = StateProcessing
	q.current = it.ProductID()
	return it, true
}

// Run consumes items until ctx is done. An in-flight attempt always runs to
// completion; its context does not inherit ctx's cancellation.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ErrAlreadyRunning
	}
	q.running = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.state = StateIdle
		q.current = ""
		q.mu.Unlock()
	}()

	q.logger.Info("consumer started", zap.Duration("interval", q.governor.Interval()))
	for {
		item, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				q.logger.Info("consumer stopped", zap.Int("abandoned", q.Len()))
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}

		q.attempt(context.WithoutCancel(ctx), item)

		interval := q.governor.Interval()
		q.mu.Lock()
		q.current = ""
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			q.logger.Info("consumer stopped", zap.Int("abandoned", q.Len()))
			return ctx.Err()
		case <-q.clock.After(interval):
		}
	}
}

func (q *Queue) attempt(ctx context.Context, item Item) {
	start := q.clock.Now()
	outcome, err := q.safeProcess(ctx, item)

	var interval time.Duration
	switch {
	case err == nil:
		if outcome == OutcomeSkipped {
			interval = q.governor.Interval()
		} else {
			interval = q.governor.RecordSuccess()
		}
	case relayerr.IsRateLimited(err):
		outcome = OutcomeRateLimited
		interval = q.governor.RecordFailure()
		q.scheduleRetry(item)
	case providerFailure(err):
		outcome = OutcomeFailed
		interval = q.governor.RecordFailure()
	default:
		outcome = OutcomeFailed
		interval = q.governor.Interval()
	}

	q.mu.Lock()
	q.processed++
	depth := q.items.Len()
	q.mu.Unlock()

	fields := []zap.Field{
		zap.String("product_id", item.ProductID()),
		zap.String("reason", string(item.Reason)),
		zap.String("action", string(item.Action)),
		zap.Int("attempt", item.Attempt),
		zap.String("outcome", string(outcome)),
		zap.Duration("took", q.clock.Since(start)),
		zap.Duration("interval", interval),
		zap.Int("depth", depth),
	}
	if err != nil {
		q.logger.Warn("publish attempt failed", append(fields, zap.Error(err))...)
	} else {
		q.logger.Info("publish attempt finished", fields...)
	}

	q.recorder.RecordAttempt(ctx, metrics.Attempt{
		ProductID: item.ProductID(),
		Reason:    string(item.Reason),
		Outcome:   string(outcome),
		Duration:  q.clock.Since(start),
		Interval:  interval,
		Depth:     depth,
	})
}

// safeProcess turns a processor panic into a failed attempt.
func (q *Queue) safeProcess(ctx context.Context, item Item) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailed
			err = fmt.Errorf("queue: processor panic: %v", r)
		}
	}()
	return q.processor.Process(ctx, item)
}

func providerFailure(err error) bool {
	return errors.Is(err, relayerr.ErrTransient) ||
		errors.Is(err, relayerr.ErrPermanent) ||
		errors.Is(err, relayerr.ErrMediaTimeout)
}

// scheduleRetry arms a front-of-line retry for a rate-limited item. Items
// enqueued for the same product during the attempt win: a retire cancels the
// retry and a newer publish is folded into it.
func (q *Queue) scheduleRetry(item Item) {
	item.Attempt++
	item.Reason = ReasonRetry

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	id := item.ProductID()
	if q.findLocked(id, ActionRetire) != nil {
		// retired while the attempt was in flight
		q.logger.Info("rate limited, retry dropped for retired product", zap.String("product_id", id))
		return
	}
	if e := q.findLocked(id, ActionPublish); e != nil {
		// a newer event arrived while the attempt was in flight; it takes the retry slot
		newer := e.Value.(Item)
		item.Event = newer.Event
		item.Action = newer.Action
		q.items.Remove(e)
	}
	if prev, ok := q.retrying[id]; ok {
		prev.timer.Stop()
	}
	q.nextGen++
	gen := q.nextGen
	b := &backoffEntry{item: item, gen: gen}
	b.timer = q.clock.AfterFunc(q.backoff, func() { q.retryDue(id, gen) })
	q.retrying[id] = b

	q.logger.Info("rate limited, retry scheduled",
		zap.String("product_id", id),
		zap.Int("next_attempt", item.Attempt),
		zap.Duration("backoff", q.backoff),
	)
}

func (q *Queue) retryDue(id string, gen uint64) {
	q.mu.Lock()
	b, ok := q.retrying[id]
	if !ok || b.gen != gen || q.closed {
		q.mu.Unlock()
		return
	}
	delete(q.retrying, id)
	item := b.item
	item.EnqueuedAt = q.clock.Now()
	if e := q.findLocked(id, ActionPublish); e != nil {
		// a newer event reached the queue meanwhile; it rides the retry
		newer := e.Value.(Item)
		item.Event = newer.Event
		item.Action = newer.Action
		q.items.Remove(e)
	}
	q.items.PushFront(item)
	q.mu.Unlock()

	q.logger.Info("retry due, requeued at head", zap.String("product_id", id), zap.Int("attempt", item.Attempt))
	q.signal()
}

// Len returns the number of items waiting to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close stops pending retry timers and rejects further items.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, b := range q.retrying {
		b.timer.Stop()
		delete(q.retrying, id)
	}
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	State      State     `json:"state"`
	Depth      int       `json:"depth"`
	BackingOff int       `json:"backing_off"`
	InFlight   string    `json:"in_flight,omitempty"`
	Processed  int       `json:"processed"`
	Rate       RateState `json:"rate"`
}

// Stats returns a snapshot.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	s := Stats{
		State:      q.state,
		Depth:      q.items.Len(),
		BackingOff: len(q.retrying),
		InFlight:   q.current,
		Processed:  q.processed,
	}
	q.mu.Unlock()
	s.Rate = q.governor.State()
	return s
}
