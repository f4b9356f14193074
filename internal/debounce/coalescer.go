// Package debounce collapses bursts of product events into one action per
// product once input for that product has been quiet for a fixed window.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/product"
)

// Sink receives events leaving the coalescer.
type Sink func(ev product.Event)

type pendingEntry struct {
	timer  clockwork.Timer
	latest product.Event
	gen    uint64
	count  int
}

// Coalescer holds at most one pending entry per product id. Each superseding
// event replaces the entry's event and restarts its timer.
type Coalescer struct {
	clock     clockwork.Clock
	delay     time.Duration
	onSettled Sink
	onRetire  Sink
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingEntry
	nextGen uint64
	stopped bool
}

// New creates a Coalescer. onSettled receives publishable events after the
// quiet window; onRetire receives non-active and delete events immediately.
func New(clock clockwork.Clock, delay time.Duration, onSettled, onRetire Sink, logger *zap.Logger) *Coalescer {
	return &Coalescer{
		clock:     clock,
		delay:     delay,
		onSettled: onSettled,
		onRetire:  onRetire,
		logger:    logger.Named("coalescer"),
		pending:   make(map[string]*pendingEntry),
	}
}

// OnEvent schedules ev. It never blocks on downstream work.
func (c *Coalescer) OnEvent(ev product.Event) {
	if !ev.Publishable() {
		dropped := c.Cancel(ev.ID)
		c.logger.Info("retire bypasses debounce",
			zap.String("product_id", ev.ID),
			zap.String("topic", string(ev.Topic)),
			zap.String("status", string(ev.Status)),
			zap.Bool("cancelled_pending", dropped),
		)
		c.onRetire(ev)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		c.logger.Warn("coalescer stopped, dropping event", zap.String("product_id", ev.ID))
		return
	}

	c.nextGen++
	gen := c.nextGen
	id := ev.ID

	e, ok := c.pending[id]
	if ok {
		e.timer.Stop()
		e.latest = ev
		e.gen = gen
		e.count++
	} else {
		e = &pendingEntry{latest: ev, gen: gen, count: 1}
		c.pending[id] = e
	}
	e.timer = c.clock.AfterFunc(c.delay, func() { c.fire(id, gen) })

	c.logger.Debug("debounce scheduled",
		zap.String("product_id", id),
		zap.Int("coalesced", e.count),
		zap.Duration("delay", c.delay),
	)
}

// fire forwards the entry if gen is still current. A timer whose Stop lost
// the race against expiry finds a newer gen and does nothing.
func (c *Coalescer) fire(id string, gen uint64) {
	c.mu.Lock()
	e, ok := c.pending[id]
	if !ok || e.gen != gen || c.stopped {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()

	c.logger.Info("debounce settled",
		zap.String("product_id", id),
		zap.Int("coalesced", e.count),
	)
	c.onSettled(e.latest)
}

// Cancel drops the pending entry for id, reporting whether one existed.
func (c *Coalescer) Cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(c.pending, id)
	return true
}

// Pending returns the number of products waiting for their window to elapse.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop cancels every pending timer; later events are dropped.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for id, e := range c.pending {
		e.timer.Stop()
		delete(c.pending, id)
	}
}
