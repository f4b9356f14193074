package queue

import (
	"sync"
	"time"
)

// GovernorConfig bounds and tunes the publish interval.
type GovernorConfig struct {
	Initial          time.Duration
	Min              time.Duration
	Max              time.Duration
	SuccessThreshold int           // consecutive successes per decrement
	SuccessStep      time.Duration // decrement size
	FailureThreshold int           // consecutive failures per increment
	FailureStep      time.Duration // increment size
}

// Governor adapts the spacing between publishes. It is a discrete-time
// integral controller with hysteresis and asymmetric steps: the interval
// shrinks by SuccessStep after every SuccessThreshold consecutive successes
// and grows by FailureStep once FailureThreshold consecutive failures are
// seen, always clamped to [Min, Max]. Either counter resets the other.
type Governor struct {
	cfg GovernorConfig

	mu        sync.Mutex
	interval  time.Duration
	successes int
	failures  int
}

// NewGovernor returns a Governor starting at cfg.Initial (clamped).
func NewGovernor(cfg GovernorConfig) *Governor {
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	g := &Governor{cfg: cfg}
	g.interval = g.clamp(cfg.Initial)
	return g
}

func (g *Governor) clamp(d time.Duration) time.Duration {
	if d < g.cfg.Min {
		return g.cfg.Min
	}
	if d > g.cfg.Max {
		return g.cfg.Max
	}
	return d
}

// Interval returns the current spacing between publishes.
func (g *Governor) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}

// RecordSuccess registers a successful publish and returns the new interval.
func (g *Governor) RecordSuccess() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.successes++
	if g.successes >= g.cfg.SuccessThreshold {
		g.successes = 0
		g.interval = g.clamp(g.interval - g.cfg.SuccessStep)
	}
	return g.interval
}

// RecordFailure registers a failed publish and returns the new interval.
func (g *Governor) RecordFailure() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes = 0
	g.failures++
	if g.failures >= g.cfg.FailureThreshold {
		g.failures = 0
		g.interval = g.clamp(g.interval + g.cfg.FailureStep)
	}
	return g.interval
}

// RateState is a snapshot of the governor.
type RateState struct {
	Interval             time.Duration `json:"interval"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
}

// State returns a snapshot of the governor counters.
func (g *Governor) State() RateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return RateState{
		Interval:             g.interval,
		ConsecutiveSuccesses: g.successes,
		ConsecutiveFailures:  g.failures,
	}
}
