package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// TriggerConfig schedules the daily run.
type TriggerConfig struct {
	Hour          int
	Minute        int
	Location      *time.Location
	CheckInterval time.Duration
	Mode          Mode
}

// Runner is what the trigger fires.
type Runner interface {
	Run(ctx context.Context, mode Mode) (Report, error)
}

// Trigger runs a reconciliation once a day at a wall-clock time.
type Trigger struct {
	cfg    TriggerConfig
	runner Runner
	clock  clockwork.Clock
	logger *zap.Logger

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	isRunning   bool
	lastRunDate string
}

// NewTrigger returns a stopped Trigger.
func NewTrigger(cfg TriggerConfig, runner Runner, clock clockwork.Clock, logger *zap.Logger) *Trigger {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFull
	}
	return &Trigger{cfg: cfg, runner: runner, clock: clock, logger: logger.Named("reconcile-trigger")}
}

// Start launches the check loop.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("daily reconcile scheduled",
		zap.Int("hour", t.cfg.Hour),
		zap.Int("minute", t.cfg.Minute),
		zap.String("timezone", t.cfg.Location.String()),
	)
}

// Stop cancels the loop and waits for an in-progress run, bounded by ctx.
func (t *Trigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Trigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := t.clock.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.checkAndRun(ctx)
		}
	}
}

// checkAndRun fires at most once per local calendar day.
func (t *Trigger) checkAndRun(ctx context.Context) {
	now := t.clock.Now().In(t.cfg.Location)
	today := now.Format("2006-01-02")

	t.mu.Lock()
	if t.lastRunDate == today {
		t.mu.Unlock()
		return
	}
	if now.Hour() != t.cfg.Hour || now.Minute() < t.cfg.Minute {
		t.mu.Unlock()
		return
	}
	t.lastRunDate = today
	t.mu.Unlock()

	t.logger.Info("daily reconcile starting", zap.String("date", today))
	if _, err := t.runner.Run(ctx, t.cfg.Mode); err != nil {
		t.logger.Error("daily reconcile failed", zap.Error(err))
	}
}
