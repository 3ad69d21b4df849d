package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimingDelay_DelaysFailures(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 20})

	start := time.Now()
	td.Wait(false)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTimingDelay_SkipsSuccessByDefault(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 50})

	start := time.Now()
	td.Wait(true)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestTimingDelay_DelayOnSuccess(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 20, DelayOnSuccess: true})

	start := time.Now()
	td.Wait(true)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
