package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testGovernorConfig() GovernorConfig {
	return GovernorConfig{
		Initial:          120 * time.Second,
		Min:              60 * time.Second,
		Max:              180 * time.Second,
		SuccessThreshold: 10,
		SuccessStep:      10 * time.Second,
		FailureThreshold: 3,
		FailureStep:      30 * time.Second,
	}
}

func TestGovernor_DecreasesAfterKSuccesses(t *testing.T) {
	g := NewGovernor(testGovernorConfig())

	for i := 0; i < 9; i++ {
		assert.Equal(t, 120*time.Second, g.RecordSuccess())
	}
	assert.Equal(t, 110*time.Second, g.RecordSuccess())
	assert.Equal(t, 0, g.State().ConsecutiveSuccesses)
}

func TestGovernor_DecreaseBoundedBelow(t *testing.T) {
	g := NewGovernor(testGovernorConfig())
	for i := 0; i < 200; i++ {
		g.RecordSuccess()
	}
	assert.Equal(t, 60*time.Second, g.Interval())
}

func TestGovernor_IncreasesAfterMFailures(t *testing.T) {
	g := NewGovernor(testGovernorConfig())

	assert.Equal(t, 120*time.Second, g.RecordFailure())
	assert.Equal(t, 120*time.Second, g.RecordFailure())
	assert.Equal(t, 150*time.Second, g.RecordFailure())
	assert.Equal(t, 0, g.State().ConsecutiveFailures, "failure counter resets after a step")

	for i := 0; i < 30; i++ {
		g.RecordFailure()
	}
	assert.Equal(t, 180*time.Second, g.Interval())
}

func TestGovernor_SuccessResetsFailureStreak(t *testing.T) {
	g := NewGovernor(testGovernorConfig())

	g.RecordFailure()
	g.RecordFailure()
	g.RecordSuccess()
	g.RecordFailure()
	g.RecordFailure()
	assert.Equal(t, 120*time.Second, g.Interval())

	s := g.State()
	assert.Equal(t, 2, s.ConsecutiveFailures)
	assert.Equal(t, 0, s.ConsecutiveSuccesses)
}

func TestGovernor_ClampsInitial(t *testing.T) {
	cfg := testGovernorConfig()
	cfg.Initial = time.Second
	assert.Equal(t, 60*time.Second, NewGovernor(cfg).Interval())
}
