package queue

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/product"
)

type cooling struct {
	ev    product.Event
	timer clockwork.Timer
}

// Cooldown holds each settled event for a fixed period before releasing it.
// Holding is per product and never blocks the caller.
type Cooldown struct {
	clock   clockwork.Clock
	period  time.Duration
	release func(product.Event)
	logger  *zap.Logger

	mu      sync.Mutex
	waiting map[string]*cooling
	stopped bool
}

// NewCooldown returns a gate that calls release after period. A period of
// zero releases immediately.
func NewCooldown(clock clockwork.Clock, period time.Duration, release func(product.Event), logger *zap.Logger) *Cooldown {
	return &Cooldown{
		clock:   clock,
		period:  period,
		release: release,
		logger:  logger.Named("cooldown"),
		waiting: make(map[string]*cooling),
	}
}

// Admit starts the cooldown for ev. If the product is already cooling, the
// held event is replaced and the original deadline kept.
func (c *Cooldown) Admit(ev product.Event) {
	if c.period <= 0 {
		c.release(ev)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if w, ok := c.waiting[ev.ID]; ok {
		w.ev = ev
		return
	}
	w := &cooling{ev: ev}
	id := ev.ID
	w.timer = c.clock.AfterFunc(c.period, func() { c.done(id, w) })
	c.waiting[id] = w

	c.logger.Debug("cooling down", zap.String("product_id", id), zap.Duration("period", c.period))
}

func (c *Cooldown) done(id string, w *cooling) {
	c.mu.Lock()
	if cur, ok := c.waiting[id]; !ok || cur != w || c.stopped {
		c.mu.Unlock()
		return
	}
	delete(c.waiting, id)
	ev := w.ev
	c.mu.Unlock()

	c.release(ev)
}

// Cancel drops a cooling event, reporting whether one existed.
func (c *Cooldown) Cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.waiting[id]
	if !ok {
		return false
	}
	w.timer.Stop()
	delete(c.waiting, id)
	return true
}

// Waiting returns the number of products currently cooling down.
func (c *Cooldown) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}

// Stop cancels all timers.
func (c *Cooldown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for id, w := range c.waiting {
		w.timer.Stop()
		delete(c.waiting, id)
	}
}
