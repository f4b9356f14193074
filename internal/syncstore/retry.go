package syncstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/relayerr"
)

// Default write retry policy for both backends.
const (
	defaultWriteAttempts = 3
	defaultRetryDelay    = 200 * time.Millisecond
)

// writeRetry repeats a failed write a bounded number of times. A write that
// never succeeds returns an error wrapping relayerr.ErrPersistence.
type writeRetry struct {
	attempts int
	delay    time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
}

func newWriteRetry(clock clockwork.Clock, logger *zap.Logger) writeRetry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return writeRetry{
		attempts: defaultWriteAttempts,
		delay:    defaultRetryDelay,
		clock:    clock,
		logger:   logger,
	}
}

func (w writeRetry) do(ctx context.Context, op string, write func() error) error {
	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if lastErr = write(); lastErr == nil {
			return nil
		}
		w.logger.Warn("sync store write failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt == w.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", relayerr.ErrPersistence, op, ctx.Err())
		case <-w.clock.After(w.delay):
		}
	}
	return fmt.Errorf("%w: %s: %v", relayerr.ErrPersistence, op, lastErr)
}
