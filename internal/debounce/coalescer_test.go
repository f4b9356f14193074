package debounce

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/product"
)

const window = 15 * time.Second

type recorder struct {
	mu      sync.Mutex
	settled []product.Event
	retired []product.Event
}

func (r *recorder) settle(ev product.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, ev)
}

func (r *recorder) retire(ev product.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired = append(r.retired, ev)
}

func (r *recorder) settledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.settled)
}

func active(id, title string) product.Event {
	return product.Event{ID: id, Topic: product.TopicUpdate, Title: title, Status: product.StatusActive}
}

func newCoalescer(t *testing.T) (*Coalescer, *clockwork.FakeClock, *recorder) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	rec := &recorder{}
	c := New(fc, window, rec.settle, rec.retire, zap.NewNop())
	t.Cleanup(c.Stop)
	return c, fc, rec
}

func TestCoalescer_BurstProducesOneActionWithLastEvent(t *testing.T) {
	c, fc, rec := newCoalescer(t)

	for i := 0; i < 5; i++ {
		c.OnEvent(active("1", fmt.Sprintf("title-%d", i)))
		fc.Advance(window / 2)
	}
	assert.Equal(t, 0, rec.settledCount(), "window restarts on every event")
	assert.Equal(t, 1, c.Pending())

	fc.Advance(window)
	require.Eventually(t, func() bool { return rec.settledCount() == 1 }, time.Second, 5*time.Millisecond)

	// no second delivery shows up later
	fc.Advance(10 * window)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.settledCount())
	assert.Equal(t, "title-4", rec.settled[0].Title)
	assert.Equal(t, 0, c.Pending())
}

func TestCoalescer_IndependentProducts(t *testing.T) {
	c, fc, rec := newCoalescer(t)

	c.OnEvent(active("1", "a"))
	c.OnEvent(active("2", "b"))
	c.OnEvent(active("1", "a2"))
	assert.Equal(t, 2, c.Pending())

	fc.Advance(window)
	require.Eventually(t, func() bool { return rec.settledCount() == 2 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	titles := map[string]string{}
	for _, ev := range rec.settled {
		titles[ev.ID] = ev.Title
	}
	assert.Equal(t, map[string]string{"1": "a2", "2": "b"}, titles)
}

func TestCoalescer_RetireIsImmediateAndCancelsPending(t *testing.T) {
	c, fc, rec := newCoalescer(t)

	c.OnEvent(active("1", "a"))
	c.OnEvent(product.Event{ID: "1", Topic: product.TopicUpdate, Status: product.StatusDraft})

	rec.mu.Lock()
	require.Len(t, rec.retired, 1)
	assert.Equal(t, product.StatusDraft, rec.retired[0].Status)
	rec.mu.Unlock()
	assert.Equal(t, 0, c.Pending())

	fc.Advance(2 * window)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.settledCount(), "the stale publish must not fire after a retire")
}

func TestCoalescer_DeleteTopicRetires(t *testing.T) {
	c, _, rec := newCoalescer(t)

	c.OnEvent(product.Event{ID: "9", Topic: product.TopicDelete})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.retired, 1)
	assert.Equal(t, product.TopicDelete, rec.retired[0].Topic)
}

func TestCoalescer_StopDropsPending(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := &recorder{}
	c := New(fc, window, rec.settle, rec.retire, zap.NewNop())

	c.OnEvent(active("1", "a"))
	c.Stop()
	c.OnEvent(active("2", "b"))
	fc.Advance(2 * window)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, rec.settledCount())
	assert.Equal(t, 0, c.Pending())
}
